package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		execGuardPolicy(),
		worldWritablePolicy(),
		serviceEnsurePolicy(),
	}
}

// execGuardPolicy flags exec resources that run unconditionally on every
// convergence pass.
func execGuardPolicy() Policy {
	return Policy{
		Name:        "exec-requires-guard",
		Description: "Exec resources should carry an unless guard or be refreshonly",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package converge.policies.exec_guard

import rego.v1

deny contains violation if {
	some resource in input.resources
	resource.kind == "exec"
	not resource.attrs.unless
	not resource.attrs.refreshonly
	violation := {
		"message": sprintf("exec %s has no unless guard and is not refreshonly; it will run on every pass", [resource.title]),
		"severity": "warning",
		"resource": resource.ref,
	}
}
`,
	}
}

// worldWritablePolicy blocks file and concat resources with
// world-writable modes.
func worldWritablePolicy() Policy {
	return Policy{
		Name:        "no-world-writable-files",
		Description: "File content resources must not be world-writable",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package converge.policies.file_mode

import rego.v1

content_kinds := {"file", "concat"}

deny contains violation if {
	some resource in input.resources
	content_kinds[resource.kind]
	mode := resource.attrs.mode
	regex.match("^[0-7]*[2367]$", mode)
	violation := {
		"message": sprintf("%s declares world-writable mode %s", [resource.ref, mode]),
		"severity": "error",
		"resource": resource.ref,
	}
}
`,
	}
}

// serviceEnsurePolicy blocks services that are enabled at boot but
// declared stopped, a combination that drifts on reboot.
func serviceEnsurePolicy() Policy {
	return Policy{
		Name:        "service-ensure-consistent",
		Description: "Services declared stopped must not be enabled at boot",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package converge.policies.service_ensure

import rego.v1

deny contains violation if {
	some resource in input.resources
	resource.kind == "service"
	resource.attrs.ensure == "stopped"
	resource.attrs.enable == true
	violation := {
		"message": sprintf("service %s is stopped but enabled at boot", [resource.title]),
		"severity": "error",
		"resource": resource.ref,
	}
}
`,
	}
}
