// Package announce holds the ephemeral announcement shown over the live
// scenes and the enrichment lookup that fills it in.
//
// The announcement is never persisted. A show request resolves a URL to an
// author and text through a Resolver; a hide request clears the slot. Slot
// tags every request with a generation so that only the most recent request
// can change what is shown.
package announce
