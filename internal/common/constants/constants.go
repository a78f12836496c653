// Package constants is responsible for defining the constants used in the application.
package constants

import "log/slog"

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// ServiceCmdName is the name of the confirmation service command.
	ServiceCmdName = "confirm-service"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn
)

// Datastore constants.
const (
	// DefaultParticipationTable is the collection holding one row per invite token.
	DefaultParticipationTable = "university_participation"
)

// Form constants.
const (
	// DefaultFormVersion is reported in the submission system metadata when the catalog does not set one.
	DefaultFormVersion = "v1"

	// DefaultMaxFileSizeMB is the per-file size limit applied by file selectors.
	DefaultMaxFileSizeMB = 20

	// InviteFolderPrefix is the storage folder under which each token gets its own folder.
	InviteFolderPrefix = "invites"

	// TokenStatusConfirmed is the status sent to the webhook when a university submits.
	TokenStatusConfirmed = "confirmed"
)
