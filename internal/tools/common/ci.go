package common

import (
	"encoding/json"
	"fmt"
	"os"
)

type ciResult struct {
	Check   string   `json:"check"`
	Passed  bool     `json:"passed"`
	Details []string `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// PrintCIResult writes a single machine-readable result line for CI runs.
func PrintCIResult(passed bool, check string, details []string, err error) {
	res := ciResult{Check: check, Passed: passed, Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	payload, marshalErr := json.Marshal(res)
	if marshalErr != nil {
		fmt.Fprintf(os.Stderr, "marshal ci result: %v\n", marshalErr)
		return
	}
	fmt.Println(string(payload))
}
