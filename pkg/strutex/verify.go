package strutex

import (
	"encoding/json"
	"strings"
)

// VerifyMarker heads the first-pass data in a verification prompt.
const VerifyMarker = "[EXTRACTED DATA TO VERIFY]"

func verificationPrompt(prompt string, data map[string]any) (string, error) {
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("You previously extracted data from this document. Check every value against the document.\n")
	sb.WriteString("Correct values that do not match, fill in fields the document contains but the data lacks, ")
	sb.WriteString("and return the complete corrected data in the same structure.\n\n")
	if prompt != "" {
		sb.WriteString("[ORIGINAL INSTRUCTIONS]\n")
		sb.WriteString(prompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString(VerifyMarker)
	sb.WriteString("\n")
	sb.Write(payload)
	sb.WriteString("\n")
	return sb.String(), nil
}
