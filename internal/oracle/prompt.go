package oracle

import (
	"fmt"
	"strings"

	"github.com/impactlink/escrow-backend/internal/models"
)

const systemPrompt = `You verify evidence submitted by Swedish nonprofit organizations that receive CSR grants held in escrow.
Judge only the evidence you are given. Never invent facts about the organization.
Respond with ONLY valid JSON of the form:
{"passed": true, "confidence": 0.0, "checks": {"<check>": true}, "reasoning": "...", "flags": ["..."]}
confidence is a number between 0 and 1 describing how certain you are of your pass/fail judgement.`

var checkNames = map[models.VerificationType][]string{
	models.VerificationTypeLegitimacy: {
		"charter_present",
		"financial_statement_present",
		"organization_matches_context",
		"documents_appear_authentic",
	},
	models.VerificationTypeImpactReport: {
		"social_proof_matches_project",
		"photos_show_activity",
		"description_specific",
		"amount_plausible",
	},
}

// buildPrompt renders the user prompt for one verification request.
func buildPrompt(req Request) string {
	var b strings.Builder
	ctx := req.Context

	fmt.Fprintf(&b, "Verification type: %s (milestone %d)\n", req.Type, req.MilestoneNumber)
	fmt.Fprintf(&b, "Organization: %s\nProject: %s\nFunding company: %s\n", ctx.OrganizationID, ctx.ProjectID, ctx.CompanyName)
	fmt.Fprintf(&b, "Milestone amount: %d minor units %s\n\n", ctx.Amount, strings.ToUpper(ctx.Currency))

	switch req.Type {
	case models.VerificationTypeLegitimacy:
		b.WriteString("Legitimacy evidence:\n")
		fmt.Fprintf(&b, "- Organizational charter: %s\n", req.Evidence.CharterDocumentURL)
		fmt.Fprintf(&b, "- Financial statement: %s\n", req.Evidence.FinancialStatementURL)
	default:
		b.WriteString("Impact evidence:\n")
		fmt.Fprintf(&b, "- Social proof link: %s\n", req.Evidence.SocialProofURL)
		for i, photo := range req.Evidence.PhotoURLs {
			fmt.Fprintf(&b, "- Photo %d: %s\n", i+1, photo)
		}
		fmt.Fprintf(&b, "- Description:\n%s\n", req.Evidence.Description)
	}

	b.WriteString("\nEvaluate these checks and report each one in \"checks\": ")
	b.WriteString(strings.Join(checkNames[req.Type], ", "))
	b.WriteString("\n")
	return b.String()
}
