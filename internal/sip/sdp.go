package sip

import (
	"fmt"
	"time"
)

// answerSDP builds the minimal session description sent in the 200 OK. The
// gate never plays or records audio; offering PCMU on a real port keeps
// registrars and trunks that insist on an SDP answer happy, and the stream is
// simply left silent until BYE.
func answerSDP(localIP string, rtpPort int) []byte {
	sess := time.Now().Unix()
	sdp := fmt.Sprintf("v=0\r\n"+
		"o=doorgate %d %d IN IP4 %s\r\n"+
		"s=doorgate\r\n"+
		"c=IN IP4 %s\r\n"+
		"t=0 0\r\n"+
		"m=audio %d RTP/AVP 0\r\n"+
		"a=rtpmap:0 PCMU/8000\r\n"+
		"a=sendrecv\r\n",
		sess, sess, localIP, localIP, rtpPort)
	return []byte(sdp)
}
