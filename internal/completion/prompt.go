// ABOUTME: Builds the system prompt that grounds the assistant in the store
// ABOUTME: Store identity, popular products, policies and reply guidelines

package completion

import (
	"fmt"
	"strings"

	"github.com/nexcart/nexcart-gateway/internal/store"
)

// StoreInfo describes the storefront the assistant speaks for.
type StoreInfo struct {
	Name     string
	URL      string
	Currency string
	Policies []string
}

var guidelines = []string{
	"Be helpful and friendly in your responses",
	"Provide accurate information about products when possible",
	"If you don't know something specific, politely say so and suggest contacting customer support",
	"Keep responses concise but informative (under 300 words)",
	"Use emojis sparingly and appropriately",
	"Focus on being helpful for e-commerce related questions",
	"If asked about technical details you're unsure about, recommend contacting support",
	"Always prioritize customer satisfaction and provide value",
}

var capabilities = []string{
	"Product information and recommendations",
	"General store policies",
	"Shipping and return information",
	"Order guidance",
	"General customer service questions",
}

// SystemPrompt builds the system message for a completion request.
func SystemPrompt(info StoreInfo, popular []*store.Product) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are an intelligent and helpful AI assistant for %s, an e-commerce store. ", info.Name)
	b.WriteString("You are powered by Groq AI using the LLaMA 3 model. ")
	b.WriteString("Be friendly, professional, and helpful while maintaining a conversational tone.\n\n")

	b.WriteString("Store Information:\n")
	fmt.Fprintf(&b, "- Store Name: %s\n", info.Name)
	fmt.Fprintf(&b, "- Website: %s\n", info.URL)
	fmt.Fprintf(&b, "- Currency: %s\n\n", info.Currency)

	if len(popular) > 0 {
		b.WriteString("Popular Products:\n")
		b.WriteString(FormatCards(popular, info.Currency))
		b.WriteString("\n\n")
	}

	if len(info.Policies) > 0 {
		b.WriteString("Store Policies:\n")
		writeList(&b, info.Policies)
		b.WriteString("\n")
	}

	b.WriteString("Guidelines:\n")
	writeList(&b, guidelines)
	b.WriteString("\nYou can help with:\n")
	writeList(&b, capabilities)

	return b.String()
}

func writeList(b *strings.Builder, items []string) {
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteByte('\n')
	}
}
