package service

import (
	"fmt"
	"log"
)

// SMS command templates for BSJ dashcam provisioning. The device applies
// them over the carrier network before it ever opens a TCP connection.
const (
	smsServerPointTemplate = "<SPBSJ*P:BSJGPS*D:%s,%d>"
	smsResetCommand        = "<SPBSJ*P:BSJGPS*Q:0,0>"
)

// BuildServerPointSMS formats the command that points a device at this
// server.
func BuildServerPointSMS(ip string, port int) string {
	return fmt.Sprintf(smsServerPointTemplate, ip, port)
}

// BuildResetSMS formats the factory-reset command.
func BuildResetSMS() string {
	return smsResetCommand
}

// SMSSender delivers a provisioning command to a device's SIM. The real
// gateway integration is external; the default sender just logs.
type SMSSender interface {
	Send(phoneNumber, message string) error
}

// LogSMSSender is the default sender: it records the message and succeeds.
type LogSMSSender struct{}

// Send logs the outbound SMS.
func (LogSMSSender) Send(phoneNumber, message string) error {
	log.Printf("[SMS] Sending to %s: %s", phoneNumber, message)
	return nil
}
