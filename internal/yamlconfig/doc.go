// Package yamlconfig loads CircleCI-style YAML pipeline definitions into the
// format-agnostic config model.
//
// Anchors, aliases and `<<` merge keys are resolved by the YAML decoder, so a
// fragment such as
//
//	defaults: &defaults
//	  working_directory: ~/project
//	  docker:
//	    - image: registry.example.com/ci/debian:11
//
//	jobs:
//	  test-centos:
//	    <<: *defaults
//	    docker:
//	      - image: registry.example.com/ci/centos:8
//
// yields a job that keeps the working directory and replaces the image. The
// `extends` key offers the same shallow override across files.
package yamlconfig
