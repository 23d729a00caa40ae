package history

import (
	"errors"
	"time"
)

// ErrDeploymentNotFound is returned when no matching deployment is recorded.
var ErrDeploymentNotFound = errors.New("history: deployment not found")

// Deployment is one engine created by agentdeploy.
type Deployment struct {
	ID           string
	ResourceName string
	DisplayName  string
	Project      string
	Location     string
	PackageURI   string
	CreatedAt    time.Time
	// DeletedAt is nil while the engine is believed to exist.
	DeletedAt *time.Time
}

// Live reports whether the deployment has not been deleted.
func (d Deployment) Live() bool {
	return d.DeletedAt == nil
}
