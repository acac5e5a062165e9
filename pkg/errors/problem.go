package errors

import "strings"

// Problem type URI prefix. Slugs are the lower-kebab form of the error kind.
const problemTypeBase = "https://api.datamarket.dev/problems/"

// ProblemDetails is an RFC 7807 Problem Details response body.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Problem renders err as an RFC 7807 body. Foreign errors collapse to the
// internal problem type without leaking their message.
func Problem(err error, instance string) *ProblemDetails {
	kind := KindOf(err)
	detail := ""
	var de *Error
	if As(err, &de) {
		detail = de.Message
	}
	return &ProblemDetails{
		Type:     problemTypeBase + kindSlug(kind),
		Title:    kindTitle(kind),
		Status:   HTTPStatus(kind),
		Detail:   detail,
		Instance: instance,
	}
}

func kindSlug(kind string) string {
	var b strings.Builder
	for i, r := range kind {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func kindTitle(kind string) string {
	switch kind {
	case KindValidation:
		return "Validation Error"
	case KindNotFound:
		return "Not Found"
	case KindInactive:
		return "Listing Inactive"
	case KindSelfPurchase:
		return "Self Purchase Rejected"
	case KindAlreadyPurchased:
		return "Already Purchased"
	case KindPaymentMismatch:
		return "Payment Mismatch"
	case KindTransferFailed:
		return "Transfer Failed"
	case KindNotOwner:
		return "Not the Listing Owner"
	case KindNotAdmin:
		return "Administrator Only"
	case KindFeeOutOfRange:
		return "Fee Out of Range"
	case KindUnauthorized:
		return "Unauthorized"
	case KindConflict:
		return "Conflict"
	default:
		return "Internal Server Error"
	}
}
