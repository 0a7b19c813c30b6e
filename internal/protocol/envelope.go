package protocol

import (
	"encoding/json"
	"time"

	"github.com/projectpulse/projectpulse/internal/domain"
)

// Outbound envelope type tags.
const (
	TypeConnectionEstablished       = "connection_established"
	TypeSubscriptionConfirmed       = "subscription_confirmed"
	TypeUnsubscriptionConfirmed     = "unsubscription_confirmed"
	TypeClientSubscriptionConfirmed = "client_subscription_confirmed"
	TypeProjectStatus               = "project_status"
	TypeProgressUpdate              = "progress_update"
	TypeProjectStatusChange         = "project_status_change"
	TypeClientProjectUpdate         = "client_project_update"
	TypeCompleted                   = "completed"
	TypeError                       = "error"
)

// Envelope is the outbound message wrapper. Type and Timestamp are always
// present; the remaining fields depend on the variant. Extra fields are
// flattened into the top-level object on marshalling.
type Envelope struct {
	Type          string                 `json:"type"`
	Timestamp     time.Time              `json:"timestamp"`
	Message       string                 `json:"message,omitempty"`
	ProjectID     string                 `json:"projectId,omitempty"`
	ClientID      string                 `json:"clientId,omitempty"`
	Status        domain.ProjectStatus   `json:"status,omitempty"`
	Project       *domain.Project        `json:"project,omitempty"`
	Progress      json.RawMessage        `json:"progress,omitempty"`
	RecentUpdates []domain.ProgressEntry `json:"recentUpdates,omitempty"`
	Report        json.RawMessage        `json:"report,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Extra         map[string]any         `json:"-"`
}

// MarshalJSON flattens Extra into the envelope object. Fixed fields win over
// colliding extra keys.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	data, err := json.Marshal(plain(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, value := range e.Extra {
		if _, taken := merged[key]; taken {
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		merged[key] = raw
	}
	return json.Marshal(merged)
}

// ErrorEnvelope builds the error variant sent back to a single connection.
func ErrorEnvelope(now time.Time, message string) Envelope {
	return Envelope{Type: TypeError, Timestamp: now, Error: message}
}
