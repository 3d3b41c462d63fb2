// Package actuator performs membership mutations against one target group on
// the messaging platform.
//
// The platform itself is consumed through the Platform interface; the
// actuator adds identity resolution, outcome classification, the one-shot
// group-reference refresh, and a serialized rate limiter that admits one
// mutation per interval measured from the start of the previous mutation.
package actuator
