// Package calibration defines the types shared by the calibration pipeline,
// the daemon, the client and the CLI. It contains:
//
//   - Session: the configuration of one calibration run and the artifact
//     names derived from it
//   - Phase: the named steps of a pipeline
//   - Error: the UserAbort / NoSupport / NoData / Internal error taxonomy
//   - Status and Result: view models returned by the HTTP API
//
// Keeping these in one leaf package avoids duplicate definitions and keeps
// the JSON contracts consistent between daemon and client.
package calibration
