package jt808

import "encoding/binary"

// BuildGeneralResponse builds a platform general response (0x8001):
// response seq + response message ID + result byte.
func BuildGeneralResponse(phone string, respSeq uint16, respMsgID uint16, result byte, seqNum uint16) []byte {
	body := make([]byte, 5)
	binary.BigEndian.PutUint16(body[0:2], respSeq)
	binary.BigEndian.PutUint16(body[2:4], respMsgID)
	body[4] = result
	return BuildMessage(MsgIDPlatformResponse, phone, seqNum, body)
}

// BuildRegistrationResponse builds a registration response (0x8100). The
// auth code is appended only on success; devices cache it across reboots.
func BuildRegistrationResponse(phone string, respSeq uint16, result byte, authCode string, seqNum uint16) []byte {
	body := make([]byte, 3, 3+len(authCode))
	binary.BigEndian.PutUint16(body[0:2], respSeq)
	body[2] = result
	if result == RegResultSuccess {
		body = append(body, []byte(authCode)...)
	}
	return BuildMessage(MsgIDRegistrationResponse, phone, seqNum, body)
}

// BuildRealtimeAVRequest builds a real-time audio/video request (0x9101)
// telling the device to dial the video server back: IP length + IP + TCP
// port + UDP port + channel + data type + stream type.
func BuildRealtimeAVRequest(phone string, channel byte, serverIP string, tcpPort uint16, streamType byte, seqNum uint16) []byte {
	ip := []byte(serverIP)
	body := make([]byte, 0, 1+len(ip)+7)
	body = append(body, byte(len(ip)))
	body = append(body, ip...)
	body = binary.BigEndian.AppendUint16(body, tcpPort)
	body = binary.BigEndian.AppendUint16(body, 0) // UDP port, unused
	body = append(body, channel)
	body = append(body, 0) // data type: AV
	body = append(body, streamType)
	return BuildMessage(MsgIDRealtimeAVRequest, phone, seqNum, body)
}

// AV control commands for 0x9102.
const (
	AVControlClose        byte = 0
	AVControlSwitchStream byte = 1
	AVControlPause        byte = 2
	AVControlResume       byte = 3
	AVControlCloseTalk    byte = 4
)

// BuildAVControl builds an audio/video control message (0x9102).
func BuildAVControl(phone string, channel, command, closeType, switchStream byte, seqNum uint16) []byte {
	body := []byte{channel, command, closeType, switchStream}
	return BuildMessage(MsgIDAVControl, phone, seqNum, body)
}
