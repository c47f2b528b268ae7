// Package triage assigns an emergency urgency level to a structured follow-up
// questionnaire. The Engine is pure: it evaluates an ordered rule table
// top-down, the first matching rule wins, and the last rule always matches.
package triage
