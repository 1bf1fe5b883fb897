package ifctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"macshift/pkg/models"
)

// Runner executes one external command and returns its stdout. Failures come
// back classified as faults so callers never have to inspect exec internals.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner shells out with a per-command timeout.
type execRunner struct {
	timeout time.Duration
}

// NewRunner returns a Runner backed by os/exec. A non-positive timeout
// disables the deadline.
func NewRunner(timeout time.Duration) Runner {
	return &execRunner{timeout: timeout}
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log.WithFields(log.Fields{
		"command": name,
		"args":    strings.Join(args, " "),
	}).Trace("Running command")

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return stdout.Bytes(), classifyCommandError(name, err, ctx.Err(), stderr.String())
	}
	return stdout.Bytes(), nil
}

// classifyCommandError maps an exec failure onto the fault taxonomy.
func classifyCommandError(name string, err, ctxErr error, stderr string) error {
	kind := models.KindUnknown
	switch {
	case errors.Is(err, exec.ErrNotFound):
		kind = models.KindCommandNotFound
	case errors.Is(ctxErr, context.DeadlineExceeded):
		kind = models.KindTimeout
	default:
		lower := strings.ToLower(stderr)
		switch {
		case strings.Contains(lower, "permission denied"),
			strings.Contains(lower, "operation not permitted"),
			strings.Contains(lower, "access is denied"):
			kind = models.KindPermissionDenied
		case strings.Contains(lower, "device or resource busy"),
			strings.Contains(lower, "resource busy"):
			kind = models.KindDeviceBusy
		}
	}

	detail := strings.TrimSpace(stderr)
	if detail != "" {
		err = fmt.Errorf("%s: %w: %s", name, err, detail)
	} else {
		err = fmt.Errorf("%s: %w", name, err)
	}
	return &models.Fault{Kind: kind, Err: err}
}
