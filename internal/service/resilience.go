package service

// BadReplyCounter bounds time-to-detect of silently broken polls. Polling
// adapters count consecutive empty or malformed replies and force a
// disconnect-and-retry cycle when the threshold is reached.
type BadReplyCounter struct {
	threshold int
	count     int
}

func NewBadReplyCounter(threshold int) *BadReplyCounter {
	return &BadReplyCounter{threshold: threshold}
}

// Bad records one bad reply and reports whether the threshold has just been
// reached. Further bad replies past the threshold keep returning false
// until Good resets the counter, so escalation fires once per streak.
func (c *BadReplyCounter) Bad() bool {
	c.count++
	return c.count == c.threshold
}

// Good records a structurally valid reply, resetting the streak.
func (c *BadReplyCounter) Good() {
	c.count = 0
}

func (c *BadReplyCounter) Count() int {
	return c.count
}
