// Package logging configures the process-wide slog logger.
//
//	logging:
//	  level: info      # debug, info, warn, error
//	  format: json     # json, text
//	  output: stdout   # stdout, stderr, file
//	  file: ""         # required for output: file
//
// Every record carries service and version. Log user ids, never token
// values or passwords; the bootstrap admin password is the one exception,
// written once at warn level.
package logging
