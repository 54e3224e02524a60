package types

// Version is the canonical project version.
// The CLI, the completed-state wire format and the chunk recording format
// all share this version.
const Version = "0.3.0"

// RecordingVersion is stamped into chunk recordings and cache entries.
// It moves in lockstep with Version.
const RecordingVersion = Version
