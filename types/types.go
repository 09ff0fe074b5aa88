package types

// ---- Sensor state (retained) ----

// Level values for SensorState.
const (
	LevelIdle    = "idle" // created, bring-up not started
	LevelReady   = "ready"
	LevelFailed  = "failed"
	LevelStopped = "stopped"
)

type SensorState struct {
	Level  string `json:"level"`  // one of Level*
	Status string `json:"status"` // freeform short code
	TS     int64  `json:"ts_ms"`
}

// Link is the link/state reported for a sensor.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

type SensorStatus struct {
	Link  Link   `json:"link"`
	TS    int64  `json:"ts_ms"`
	Error string `json:"error,omitempty"`
}

// ---- Info (retained) ----

type Info struct {
	SchemaVersion int         `json:"schema_version"`
	Driver        string      `json:"driver"`
	Detail        interface{} `json:"detail,omitempty"`
}

type TouchInfo struct {
	Bus          int    `json:"bus"`
	Addr         uint16 `json:"addr"`
	Channels     int    `json:"channels"`
	Sensitivity  string `json:"sensitivity"`
	PollInterval int    `json:"poll_interval_ms"`
}

// ---- Values and events ----

// ChannelValue is published retained per channel on every state change.
type ChannelValue struct {
	Touched bool  `json:"touched"`
	TS      int64 `json:"ts_ms"`
}

// ChannelEvent is published (non-retained) on touch and release edges.
type ChannelEvent struct {
	Channel int   `json:"channel"`
	TS      int64 `json:"ts_ms"`
}

// TouchMask is the reply to a read/touched control.
type TouchMask struct {
	Mask uint16 `json:"mask"`
}

// ChannelData is the reply to filtered/baseline controls.
type ChannelData struct {
	Channel int    `json:"channel"`
	Value   uint16 `json:"value"`
}

// IsTouchedValue is the reply to an is_touched control.
type IsTouchedValue struct {
	Channel int  `json:"channel"`
	Touched bool `json:"touched"`
}

// ---- Control payloads ----

type ChannelQuery struct {
	Channel int `json:"channel"`
}

type ThresholdsSet struct {
	Touch   int `json:"touch"`
	Release int `json:"release"`
}

// ---- Generic replies ----

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}
