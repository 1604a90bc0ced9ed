package booking

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/templeseva/darshan/internal/domain"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
	MaxReasonLength  = 500
)

var inputValidator = newInputValidator()

func newInputValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("phone", phoneNumber)
	_ = v.RegisterValidation("paymentmethod", func(fl validator.FieldLevel) bool {
		return domain.PaymentMethod(fl.Field().String()).Valid()
	})
	return v
}

// phoneNumber accepts 10 to 15 digits with an optional leading plus.
func phoneNumber(fl validator.FieldLevel) bool {
	digits := strings.TrimPrefix(fl.Field().String(), "+")
	if len(digits) < 10 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type CreateBookingInput struct {
	TempleID      string        `json:"templeId" validate:"notblank"`
	UserID        string        `json:"-"`
	VisitDate     string        `json:"visitDate"`
	TimeSlot      TimeSlotInput `json:"timeSlot"`
	Visitors      VisitorsInput `json:"visitors"`
	Contact       ContactInput  `json:"contactInfo"`
	PaymentMethod string        `json:"paymentMethod" validate:"paymentmethod"`
}

type TimeSlotInput struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type VisitorsInput struct {
	Adults   int `json:"adults" validate:"gte=1,lte=20"`
	Children int `json:"children" validate:"gte=0,lte=10"`
	Seniors  int `json:"seniors" validate:"gte=0,lte=10"`
}

func (v VisitorsInput) domain() domain.Visitors {
	return domain.Visitors{Adults: v.Adults, Children: v.Children, Seniors: v.Seniors}
}

type ContactInput struct {
	Name            string `json:"name" validate:"min=2,max=100"`
	Phone           string `json:"phone" validate:"phone"`
	Email           string `json:"email" validate:"email"`
	SpecialRequests string `json:"specialRequests" validate:"max=500"`
}

// PaymentUpdate is a gateway or staff driven change of payment state.
type PaymentUpdate struct {
	Status        domain.PaymentStatus `json:"status"`
	TransactionID string               `json:"transactionId"`
	OrderID       string               `json:"orderId"`
}

// validate checks every field before anything is stored and returns the
// parsed visit date and the catalog slot.
func (s *BookingService) validate(in CreateBookingInput, now time.Time) (time.Time, domain.TimeSlot, error) {
	v := &domain.ValidationError{}
	loc := s.catalog.Location()

	if err := inputValidator.Struct(in); err != nil {
		if err := addFieldErrors(v, err); err != nil {
			return time.Time{}, domain.TimeSlot{}, err
		}
	}
	if in.UserID == "" {
		v.Add("userId", "is required")
	}

	visitDate, err := time.ParseInLocation(domain.DateLayout, in.VisitDate, loc)
	if err != nil {
		v.Add("visitDate", fmt.Sprintf("must be formatted as %s", domain.DateLayout))
	} else {
		local := now.In(loc)
		today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		if visitDate.Before(today) {
			v.Add("visitDate", "must not be in the past")
		}
	}

	slot, ok := domain.TimeSlot{}, false
	if _, err := time.Parse(domain.SlotLayout, in.TimeSlot.Start); err != nil {
		v.Add("timeSlot.start", "must be formatted as HH:MM")
	} else if slot, ok = s.catalog.Find(in.TempleID, in.TimeSlot.Start, in.TimeSlot.End); !ok {
		v.Add("timeSlot", "is not offered by this temple")
	} else if !visitDate.IsZero() {
		if start, err := domain.SlotStart(visitDate, slot, loc); err == nil && !start.After(now) {
			v.Add("timeSlot", "has already started")
		}
	}

	if err := v.Err(); err != nil {
		return time.Time{}, domain.TimeSlot{}, err
	}
	return visitDate, slot, nil
}

// addFieldErrors copies tag failures into v. Anything other than
// validator.ValidationErrors is returned as is.
func addFieldErrors(v *domain.ValidationError, err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	for _, fe := range errs {
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		v.Add(field, fieldMessage(fe))
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "gte", "min":
		return fmt.Sprintf("must be at least %s%s", fe.Param(), unit)
	case "lte", "max":
		return fmt.Sprintf("must be at most %s%s", fe.Param(), unit)
	case "email":
		return "is not a valid email address"
	case "phone":
		return "must be 10 to 15 digits"
	case "paymentmethod":
		return "must be one of card, upi, netbanking, wallet"
	default:
		return "is invalid"
	}
}
