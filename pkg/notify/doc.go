// Package notify implements coco's two optional external collaborators
// (spec §1's "out of scope, specified only via interfaces"): a Slack
// log-forwarding hook keyed by slack_rules, and a registrar for the
// comet schema-tracking broker. Both default to a no-op when their
// config block is absent, so the controller runs unchanged without
// them configured.
package notify
