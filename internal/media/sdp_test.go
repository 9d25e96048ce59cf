package media

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sdpLines(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

var sessionHeader = []string{
	"v=0",
	"o=- 4596489990601351948 2 IN IP4 127.0.0.1",
	"s=-",
	"t=0 0",
	"a=fingerprint:sha-256 0F:74:31:25:CB:A2:13:EC:28:6F:6D:2C:61:FF:5D:C2:BC:B9:DB:3D:98:14:8D:1A:BB:EA:33:0C:A4:60:A8:8E",
}

func mediaSection(kind, pt, codec, direction string, withUfrag bool) []string {
	lines := []string{
		"m=" + kind + " 9 UDP/TLS/RTP/SAVPF " + pt,
		"c=IN IP4 0.0.0.0",
	}
	if withUfrag {
		lines = append(lines, "a=ice-ufrag:abcd", "a=ice-pwd:efghijklmnopqrstuvwxyz")
	}
	if direction != "" {
		lines = append(lines, "a="+direction)
	}
	return append(lines, "a=rtpmap:"+pt+" "+codec)
}

func TestInspectOffer(t *testing.T) {
	audio := func(dir string) []string { return mediaSection("audio", "111", "opus/48000/2", dir, true) }
	video := func(dir string) []string { return mediaSection("video", "96", "VP8/90000", dir, true) }
	join := func(parts ...[]string) string {
		all := append([]string(nil), sessionHeader...)
		for _, p := range parts {
			all = append(all, p...)
		}
		return sdpLines(all...)
	}

	tests := []struct {
		name        string
		sdp         string
		wantSending int
		wantMedia   int
		wantField   string
	}{
		{name: "publish audio and video", sdp: join(audio("sendonly"), video("sendrecv")), wantSending: 2, wantMedia: 2},
		{name: "implicit sendrecv", sdp: join(video("")), wantSending: 1, wantMedia: 1},
		{name: "subscriber offer", sdp: join(audio("recvonly"), video("recvonly")), wantSending: 0, wantMedia: 2},
		{name: "inactive section", sdp: join(audio("sendonly"), video("inactive")), wantSending: 1, wantMedia: 2},
		{name: "no media", sdp: join(), wantField: "Media"},
		{name: "missing ice credentials", sdp: join(mediaSection("video", "96", "VP8/90000", "sendonly", false)), wantField: "ICE"},
		{name: "not sdp", sdp: "hello", wantField: "SessionDescription"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary, err := inspectOffer(tt.sdp)
			if tt.wantField != "" {
				var verr *SDPValidationError
				require.ErrorAs(t, err, &verr)
				require.Equal(t, tt.wantField, verr.Field)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantSending, summary.sending)
			require.Equal(t, tt.wantMedia, summary.media)
		})
	}
}

func TestInspectOfferRequiresFingerprint(t *testing.T) {
	offer := sdpLines(append([]string{"v=0", "o=- 1 2 IN IP4 127.0.0.1", "s=-", "t=0 0"},
		mediaSection("audio", "111", "opus/48000/2", "sendonly", true)...)...)

	_, err := inspectOffer(offer)

	var verr *SDPValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "DTLS", verr.Field)
}
