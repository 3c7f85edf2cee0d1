// Package policy provides Open Policy Agent (OPA) based deploy policies.
//
// Policies written in Rego are evaluated against seedkit declarations
// before provisioning and against call configurations before a remote job
// is dispatched. Built-in policies cover IAM guardrails, permissions
// boundaries, in-VPC placement, build timeouts, build image provenance,
// and plaintext secrets.
//
// # Usage
//
// Creating a policy engine and checking a seedkit before deploying:
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := engine.EvaluateDeployment(ctx, "my-toolkit", "us-east-1", settings)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Allowed {
//	    for _, v := range result.Violations {
//	        fmt.Printf("policy %s: %s\n", v.Policy, v.Message)
//	    }
//	}
//
// Custom policies load from .rego or .json files and evaluate the same
// input document:
//
//	package custom.policies.regions
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.context.region != "us-east-1"
//	    violation := {
//	        "message": "seedkits may only deploy to us-east-1",
//	        "severity": "error",
//	    }
//	}
//
// Violations carry four severity levels: info, warning, error, and
// critical. Error and critical violations block the operation; the rest
// surface as events.
//
// The loader supports watching policy files for changes and reloading
// automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return engine.LoadPolicies(ctx, paths)
//	})
package policy
