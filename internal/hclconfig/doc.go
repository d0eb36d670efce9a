// Package hclconfig loads pipeline definitions written in HCL.
//
// A file holds any number of `job "name" {}` and `workflow "name" {}` blocks.
// Jobs carry `step "type" {}` blocks in execution order; workflows carry
// `trigger "event" {}` and `job "template" {}` invocation blocks. Attribute
// values that can hold mixed types (environment maps, matrix parameters,
// fixed parameters, build arguments) are evaluated as cty values and
// converted to strings, so `version = [11, 12]` works as expected.
//
// Environment values may reference secrets with the `secret("NAME")`
// function or the equivalent `{ secret = "NAME" }` object.
package hclconfig
