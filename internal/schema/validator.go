package schema

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// MaxBatchRecords is the largest batch the ingestion boundary accepts.
const MaxBatchRecords = 100

// Validator checks records received from the classification API.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// ValidateLog validates a log record.
func (v *Validator) ValidateLog(r *LogRecord) error {
	if err := v.validate.Struct(r); err != nil {
		return fmt.Errorf("log record %q: %w", r.ID, err)
	}
	return nil
}

// ValidateLogs validates every record and returns the first failure.
func (v *Validator) ValidateLogs(records []LogRecord) error {
	for i := range records {
		if err := v.ValidateLog(&records[i]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateClassified validates one classifier output.
func (v *Validator) ValidateClassified(r *ClassifiedRecord) error {
	if err := v.validate.Struct(r); err != nil {
		return fmt.Errorf("classified record: %w", err)
	}
	return nil
}

// ValidateBatch validates a batch of classifier outputs and enforces the
// batch bound.
func (v *Validator) ValidateBatch(records []ClassifiedRecord) error {
	if len(records) > MaxBatchRecords {
		return fmt.Errorf("batch of %d records exceeds limit of %d", len(records), MaxBatchRecords)
	}
	for i := range records {
		if err := v.ValidateClassified(&records[i]); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

// ValidateUser validates a listed user.
func (v *Validator) ValidateUser(u *UserRecord) error {
	if err := v.validate.Struct(u); err != nil {
		return fmt.Errorf("user record: %w", err)
	}
	return nil
}

// ValidateNewUser validates a create-user request.
func (v *Validator) ValidateNewUser(u *NewUser) error {
	if err := v.validate.Struct(u); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateStatistics validates statistics counts, including the sum invariant.
func (v *Validator) ValidateStatistics(s *Statistics) error {
	if err := v.validate.Struct(s); err != nil {
		return fmt.Errorf("statistics: %w", err)
	}
	if !s.Consistent() {
		return fmt.Errorf("statistics total %d does not equal %d+%d+%d",
			s.Total, s.Normal, s.Suspicious, s.Malicious)
	}
	return nil
}
