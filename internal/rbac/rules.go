package rbac

// Default is the policy used by Require. Roles come from the identity
// collaborator's token.
var Default = Policy{
	"student": {
		"exam:view",
		"paywall:view",
		"attempt:create",
		"attempt:save",
		"attempt:submit",
		"attempt:view-own",
	},
	// support staff handle lock tickets but cannot issue entitlements
	"support": {
		"paywall:view",
		"entitlement:view",
		"entitlement:unlock",
	},
	"admin": {
		"*",
	},
}
