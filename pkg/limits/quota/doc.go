// Package quota tracks daily and monthly request quotas per client.
//
// Admission checks charge every admitted request to the caller's
// "<user>:main" key; API clients check their own "<client>:<api key>"
// quota explicitly with Tracker.Check.
package quota
