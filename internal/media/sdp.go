package media

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// SDPValidationError describes an offer the engine refuses to apply.
type SDPValidationError struct {
	Field   string
	Message string
}

func (e *SDPValidationError) Error() string {
	return fmt.Sprintf("SDP validation error in %s: %s", e.Field, e.Message)
}

type offerSummary struct {
	media   int // audio and video sections
	sending int // sections on which the remote side sends
}

func inspectOffer(raw string) (offerSummary, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return offerSummary{}, &SDPValidationError{Field: "SessionDescription", Message: err.Error()}
	}
	if len(desc.MediaDescriptions) == 0 {
		return offerSummary{}, &SDPValidationError{Field: "Media", Message: "no media sections found"}
	}

	_, sessionUfrag := desc.Attribute("ice-ufrag")
	_, sessionFingerprint := desc.Attribute("fingerprint")

	var summary offerSummary
	for _, md := range desc.MediaDescriptions {
		if _, ok := md.Attribute("ice-ufrag"); !ok && !sessionUfrag {
			return offerSummary{}, &SDPValidationError{Field: "ICE", Message: "no ICE credentials found"}
		}
		if _, ok := md.Attribute("fingerprint"); !ok && !sessionFingerprint {
			return offerSummary{}, &SDPValidationError{Field: "DTLS", Message: "no DTLS fingerprint found"}
		}

		switch md.MediaName.Media {
		case "audio", "video":
		default:
			continue
		}
		// port zero rejects the section
		if md.MediaName.Port.Value == 0 {
			continue
		}
		summary.media++
		if remoteSends(md) {
			summary.sending++
		}
	}
	return summary, nil
}

func remoteSends(md *sdp.MediaDescription) bool {
	for _, dir := range []string{"recvonly", "inactive"} {
		if _, ok := md.Attribute(dir); ok {
			return false
		}
	}
	return true
}
