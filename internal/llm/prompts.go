package llm

import (
	"fmt"
	"strings"
)

// MaxContentChars bounds how much scraped text is embedded in a prompt.
const MaxContentChars = 12000

const analystSystem = "You are a senior SEO and generative engine optimization analyst. " +
	"Always answer with a single valid JSON object and nothing else."

// Language maps a locale to the language name used in prompts.
func Language(locale string) string {
	if strings.EqualFold(strings.TrimSpace(locale), "tr") {
		return "Turkish"
	}
	return "English"
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func analystPrompt(user string) Prompt {
	return Prompt{
		System:      analystSystem,
		User:        user,
		Temperature: Temperature(0.2),
		JSON:        true,
	}
}

// BusinessModelPrompt asks for the site's business model.
func BusinessModelPrompt(content, locale string) Prompt {
	return analystPrompt(fmt.Sprintf(`Analyze the business model of the website whose content is below.
Respond in %s with JSON of the form:
{"brandName": string, "modelType": string, "valueProposition": string,
 "revenueStreams": [string], "keyActivities": [string], "summary": string}

WEBSITE CONTENT:
%s`, Language(locale), Truncate(content, MaxContentChars)))
}

// TargetAudiencePrompt asks for the site's audience segments.
func TargetAudiencePrompt(content, locale string) Prompt {
	return analystPrompt(fmt.Sprintf(`Identify the target audience of the website whose content is below.
Respond in %s with JSON of the form:
{"primaryAudience": {"demographics": string, "psychographics": string, "painPoints": [string]},
 "secondaryAudiences": [{"demographics": string, "psychographics": string, "painPoints": [string]}]}

WEBSITE CONTENT:
%s`, Language(locale), Truncate(content, MaxContentChars)))
}

// CompetitorsPrompt asks for business and content competitors.
func CompetitorsPrompt(content, url, locale string) Prompt {
	return analystPrompt(fmt.Sprintf(`List the main competitors of %s based on its content below.
Respond in %s with JSON of the form:
{"businessCompetitors": [{"name": string, "domain": string, "reason": string}],
 "contentCompetitors": [{"name": string, "domain": string, "reason": string}]}
Return at most five of each.

WEBSITE CONTENT:
%s`, url, Language(locale), Truncate(content, MaxContentChars)))
}

// EEATPrompt asks for an E-E-A-T assessment.
func EEATPrompt(content, sector, audience, locale string) Prompt {
	return analystPrompt(fmt.Sprintf(`Evaluate the Experience, Expertise, Authoritativeness and Trustworthiness
signals of the website below. Sector: %s. Audience: %s.
Respond in %s with JSON of the form:
{"eeatAnalysis": {
   "experience": {"score": number 0-100, "justification": string, "positiveSignals": [string], "negativeSignals": [string]},
   "expertise": {...same shape...},
   "authoritativeness": {...same shape...},
   "trustworthiness": {...same shape...}},
 "executiveSummary": string,
 "geoScoreDetails": object,
 "actionPlan": [{"title": string, "description": string, "priority": "high"|"medium"|"low"}]}

WEBSITE CONTENT:
%s`, sector, audience, Language(locale), Truncate(content, MaxContentChars)))
}

// AgendaPrompt asks for a prioritized action agenda from a trust report.
func AgendaPrompt(reportJSON, locale string) Prompt {
	return analystPrompt(fmt.Sprintf(`Using the GEO trust report below, write a prioritized action agenda.
Respond in %s with JSON of the form:
{"title": string, "summary": string,
 "items": [{"title": string, "description": string, "priority": "high"|"medium"|"low",
            "pillar": string, "effort": string, "impact": string}]}

REPORT:
%s`, Language(locale), reportJSON))
}

// SentimentPrompt asks for the sentiment distribution of AI answers.
func SentimentPrompt(brand, text string) Prompt {
	return Prompt{
		System:      "You classify sentiment. Answer with JSON only.",
		User: fmt.Sprintf(`Estimate the sentiment toward the brand %q in the text below as percentages summing to 100.
Respond with JSON: {"positive": number, "neutral": number, "negative": number}

TEXT:
%s`, brand, text),
		Temperature: Temperature(0),
		JSON:        true,
	}
}

// ClaimsPrompt asks for factual claims about a brand.
func ClaimsPrompt(brand, text string) Prompt {
	return Prompt{
		System:      "You extract factual claims. Answer with JSON only.",
		User: fmt.Sprintf(`Extract up to five concrete factual claims made about %q in the text below.
Respond with JSON: {"claims": [string]}

TEXT:
%s`, brand, text),
		Temperature: Temperature(0),
		JSON:        true,
	}
}

// VerifyClaimPrompt asks whether the ground truth supports a claim.
func VerifyClaimPrompt(claim, groundTruth string) Prompt {
	return Prompt{
		System:      "You fact-check claims against a source. Answer with JSON only.",
		User: fmt.Sprintf(`Check the claim against the source text.
Respond with JSON: {"verificationResult": "verified"|"unverified"|"contradictory", "sourceText": string, "explanation": string}
sourceText must quote the supporting or contradicting passage, or be empty.

CLAIM: %s

SOURCE:
%s`, claim, Truncate(groundTruth, MaxContentChars)),
		Temperature: Temperature(0),
		JSON:        true,
	}
}
