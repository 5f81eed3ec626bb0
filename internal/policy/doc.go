// Package policy loads the rate limit policy document.
//
// A policy is a small YAML file that overrides the limiter settings given on
// the command line and lists callers that bypass the limiter. It can live on
// local disk, in an SSM parameter or in S3, and may carry a detached KMS
// signature that is verified before the document is parsed.
//
//	max_requests: 100
//	window: 60s
//	sweep_probability: 0.01
//	sweep_interval: 0s
//	message: Too many requests, please try again later.
//	bypass:
//	  environments: [local, dev]
//	  origins: [10.0.0.5]
//	  subjects: [healthchecker]
//	  paths: [/-/healthy, /-/ready]
package policy
