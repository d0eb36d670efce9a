// Package app contains the core application logic. It defines the App
// struct, its configuration, and the run lifecycle: loading the pipeline,
// selecting workflows for an event, expanding matrices, executing the job
// graph and recording the outcome. It is decoupled from the CLI.
package app
