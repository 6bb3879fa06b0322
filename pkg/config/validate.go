package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks struct constraints and the cross-field rules between tiers
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	// The final gate must be at least as strict as the sync gate
	if c.FinalVerify.MaxBytes > c.SyncGate.Bytes {
		return fmt.Errorf("%w: final_verify.max_bytes (%d) exceeds sync_gate.bytes (%d)",
			ErrInvalidConfig, c.FinalVerify.MaxBytes, c.SyncGate.Bytes)
	}
	if c.FinalVerify.MaxReplayLag > c.SyncGate.ReplayLag {
		return fmt.Errorf("%w: final_verify.max_replay_lag (%s) exceeds sync_gate.replay_lag (%s)",
			ErrInvalidConfig, c.FinalVerify.MaxReplayLag, c.SyncGate.ReplayLag)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", field, fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}
