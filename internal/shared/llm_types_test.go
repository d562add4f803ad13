package shared

import "testing"

func TestAgentMetaReached(t *testing.T) {
	if (AgentMeta{}).Reached() {
		t.Error("an unnamed call never reached the generator")
	}
	if !(AgentMeta{AgentName: "ReceiptScanner"}).Reached() {
		t.Error("a named call reached the generator")
	}
}
