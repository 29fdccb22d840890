package settings

import (
	"encoding/json"
	"errors"
	"strings"
)

// Role selects which end of the session this proxy is: the GCS responds to
// the initial handshake, the drone initiates it.
type Role int

const (
	GCS Role = iota
	Drone
)

func (r Role) String() string {
	switch r {
	case GCS:
		return "gcs"
	case Drone:
		return "drone"
	default:
		return "unknown"
	}
}

func (r Role) MarshalJSON() ([]byte, error) {
	switch r {
	case GCS:
		return json.Marshal("gcs")
	case Drone:
		return json.Marshal("drone")
	default:
		return nil, errors.New("invalid role")
	}
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "gcs":
		*r = GCS
	case "drone":
		*r = Drone
	default:
		return errors.New("invalid role")
	}
	return nil
}
