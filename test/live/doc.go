// Package live runs the GitLab skill specs against a real instance.
//
// # Components
//
// Session is shared by every spec of a run. Open loads .env.test from the
// module root together with the GITLAB_* variables, pings the instance and
// resolves the seeded group and project. When the ledger is enabled every
// tracked fixture is also recorded on disk so that a crashed run can be
// swept later with the sweep command.
//
// Skill helpers wrap the glab client in gomega assertions. Glab and RunCLI
// run a glab subcommand with --repo set; APIGet, APIPost, APIPut, APIPatch
// and APIDelete call glab api and return the decoded body, or nil when the
// call failed with one of the tolerated status codes.
//
// Each destructive spec gets its own fixtures.Factory through newFactory.
// Its tracker is torn down by DeferCleanup once the test ends, pass or fail.
// Resources created outside the factory, through the CLI or as another role,
// are registered with Tracker.Track so the default client removes them.
//
// # Test Flow
//
// BeforeSuite:
//   - Open the session; a missing token or an unreachable instance leaves
//     the session nil and every live spec is skipped
//
// BeforeEach:
//   - requireSession and a fresh unique id
//   - requireRole for permission specs, skipping when the role has no token
//
// Test:
//   - Create fixtures, exercise the skill through glab, assert on output
//
// DeferCleanup:
//   - Tracker.Cleanup tears fixtures down in dependency order
//
// # Labels
//
//	live         every spec hitting an instance
//	p0 .. p3     skill priority
//	readonly     leaves the instance unchanged
//	destructive  creates or modifies resources
//	ultimate     needs a licensed instance
//	registry     needs the container registry
//	offline      runs against the in-memory fake
//
// Run the read-only core with:
//
//	ginkgo --label-filter='live && p0 && readonly' ./test/live
package live
