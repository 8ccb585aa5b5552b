package domain

import (
	"net"
	"strings"
	"time"

	"github.com/provisboard/provisd/pkg/errors"
)

// InstallStatus represents the current state of an install job
type InstallStatus string

const (
	StatusPending   InstallStatus = "PENDING"
	StatusPreparing InstallStatus = "PREPARING"
	StatusRunning   InstallStatus = "RUNNING"
	StatusCompleted InstallStatus = "COMPLETED"
	StatusFailed    InstallStatus = "FAILED"
	StatusCancelled InstallStatus = "CANCELLED"
)

// Terminal returns true for states that permit no further transitions
func (s InstallStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// disallowedSecretPrefixes are rejected because the secrets are spliced into
// the unattended-install command line on the remote host. A leading "-" would
// be read as a flag, "$" and "`" would be expanded by the remote shell.
var disallowedSecretPrefixes = []string{"-", "$", "`"}

// InstallJob represents one remote unattended OS install
type InstallJob struct {
	Id          string        // Unique identifier for job tracking
	Owner       string        // Owning account id
	Target      string        // Target machine address (dotted-quad IPv4)
	Variant     string        // Install catalog key (e.g. "win11-pro")
	BootSecret  string        // Consumed once by the remote host at dispatch
	AdminSecret string        // Consumed once by the remote host at dispatch
	Status      InstallStatus // Current lifecycle state
	Message     string        // Free-text status message
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Active returns true while the job has not reached a terminal state
func (j *InstallJob) Active() bool {
	return !j.Status.Terminal()
}

// DeepCopy creates a copy of the job safe to hand to callers
func (j *InstallJob) DeepCopy() *InstallJob {
	if j == nil {
		return nil
	}
	jobCopy := *j
	return &jobCopy
}

// ValidateTarget checks that target is a plain dotted-quad IPv4 address
func ValidateTarget(target string) error {
	ip := net.ParseIP(target)
	if ip == nil || ip.To4() == nil || !strings.Contains(target, ".") {
		return errors.ErrInvalidTarget
	}
	return nil
}

// ValidateSecret checks the shape of an install secret. Content policy
// (length, charset) belongs to the API layer; this guards only the shapes
// that would break or subvert the remote dispatch.
func ValidateSecret(secret string) error {
	if secret == "" {
		return errors.ErrInvalidSecret
	}
	if strings.TrimSpace(secret) != secret {
		return errors.ErrInvalidSecret
	}
	for _, prefix := range disallowedSecretPrefixes {
		if strings.HasPrefix(secret, prefix) {
			return errors.ErrInvalidSecret
		}
	}
	return nil
}
