// Package config loads seedkit configuration files written in CUE.
//
// A configuration file declares the seedkit deployment, the call defaults
// registered for it, and optional starlark expressions producing computed
// environment variables:
//
//	seedkit: {
//		name:                 "my-toolkit"
//		region:               "us-east-1"
//		deploy_if_not_exists: true
//		managed_policy_arns: ["arn:aws:iam::aws:policy/AdministratorAccess"]
//	}
//
//	configuration: {
//		timeout_minutes: 30
//		modules: ["my-package"]
//		local_modules: "my-module": "./my-module"
//		env_vars: STAGE: {value: "prod"}
//		exported_env_vars: ["DEPLOYMENT_OUTPUT"]
//	}
//
//	env_expressions: {
//		DEPLOY_TARGET: "seedkit + '-' + region"
//	}
//
// Parsing goes through three layers: CUE compilation and unification,
// struct validation (go-playground/validator tags plus the CUE schemas in
// the registry), and starlark evaluation of env expressions. The result
// converts directly into the registry configuration and provisioning
// options:
//
//	parser := config.NewCUEParser()
//	file, err := parser.Load(ctx, "seedkit.cue")
//	if err != nil { ... }
//	registry.Configure(file.Seedkit.Name, file.ToConfiguration(), file.Seedkit.DeployIfNotExists)
package config
