// Package notify turns booking events into visitor notifications. Delivery
// itself belongs to an external service; the default sender only logs.
package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/templeseva/darshan/internal/domain"
)

type Message struct {
	To        string
	Phone     string
	Subject   string
	BookingID string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type Notifier struct {
	sender Sender
	log    logrus.FieldLogger
}

func NewNotifier(sender Sender, log logrus.FieldLogger) *Notifier {
	if sender == nil {
		sender = NewLogSender(log)
	}
	return &Notifier{sender: sender, log: log}
}

// Handle is the worker's event callback. Events nobody is told about are skipped.
func (n *Notifier) Handle(ctx context.Context, event domain.BookingEvent) error {
	subject, ok := subjectFor(event)
	if !ok {
		return nil
	}
	if event.Email == "" && event.Phone == "" {
		n.log.WithField("booking_id", event.BookingID).Warn("booking event without contact details")
		return nil
	}
	return n.sender.Send(ctx, Message{
		To:        event.Email,
		Phone:     event.Phone,
		Subject:   subject,
		BookingID: event.BookingID,
	})
}

func subjectFor(event domain.BookingEvent) (string, bool) {
	when := event.VisitDate + " " + event.TimeSlot
	switch event.Type {
	case domain.EventBookingCreated:
		return fmt.Sprintf("Booking received for %s, complete payment to confirm", when), true
	case domain.EventBookingConfirmed:
		return fmt.Sprintf("Darshan confirmed for %s (%d visitors)", when, event.TotalVisitors), true
	case domain.EventBookingCancelled:
		if event.RefundAmount > 0 {
			return fmt.Sprintf("Booking for %s cancelled, refund of %.2f initiated", when, event.RefundAmount.Major()), true
		}
		return fmt.Sprintf("Booking for %s cancelled", when), true
	case domain.EventBookingExpired:
		return fmt.Sprintf("Booking for %s expired before payment", when), true
	}
	return "", false
}

type LogSender struct {
	log logrus.FieldLogger
}

func NewLogSender(log logrus.FieldLogger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.WithFields(logrus.Fields{
		"to":         msg.To,
		"phone":      msg.Phone,
		"booking_id": msg.BookingID,
	}).Info(msg.Subject)
	return nil
}
