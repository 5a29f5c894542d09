// ABOUTME: Rule-based responder used when the completion upstream is unavailable
// ABOUTME: Matches the message against topic patterns in priority order and searches the catalog

package completion

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nexcart/nexcart-gateway/internal/store"
)

const (
	searchLimit  = 5
	popularLimit = 3
)

// topic is one canned answer. Topics are tried in order; the first match wins.
type topic struct {
	name    string
	pattern *regexp.Regexp
	answer  func(f *Fallback, ctx context.Context, message string) string
}

func fixed(text string) func(*Fallback, context.Context, string) string {
	return func(*Fallback, context.Context, string) string { return text }
}

var topics = []topic{
	{
		name:    "greeting",
		pattern: regexp.MustCompile(`\b(hi|hello|hey|good morning|good afternoon|good evening)\b`),
		answer: func(f *Fallback, _ context.Context, _ string) string {
			return fmt.Sprintf("Hello! 👋 Welcome to %s! I'm your AI assistant powered by Groq AI. How can I help you find what you're looking for today?", f.info.Name)
		},
	},
	{
		name:    "product",
		pattern: regexp.MustCompile(`\b(product|item|find|search|looking for|show me|recommend)\b`),
		answer:  (*Fallback).productSearch,
	},
	{
		name:    "ai",
		pattern: regexp.MustCompile(`\b(ai|artificial intelligence|groq|llama|technology)\b`),
		answer: fixed("I'm powered by Groq AI using the LLaMA 3 model! 🤖 This gives me the ability to understand your questions " +
			"and provide helpful, human-like responses about our store and products. What can I help you with today?"),
	},
	{
		name:    "shipping",
		pattern: regexp.MustCompile(`\b(shipping|delivery|ship|deliver|freight|postage)\b`),
		answer: fixed("Here's our shipping information:\n\n🚚 **Shipping Options:**\n" +
			"• Standard shipping (5-7 business days)\n• Express shipping (2-3 business days)\n• Free shipping on orders over ৳2000\n\n" +
			"📍 Shipping costs are calculated at checkout based on your location. Would you like help with anything specific about shipping?"),
	},
	{
		name:    "returns",
		pattern: regexp.MustCompile(`\b(return|refund|exchange|warranty|guarantee|policy)\b`),
		answer: fixed("Our **return policy** is customer-friendly:\n\n✅ **Easy Returns:**\n" +
			"• 30-day return window\n• Items must be in original condition\n• Refunds processed within 5-7 business days\n• Free returns for defective items\n\n" +
			"📞 Need to start a return? I can guide you through the process!"),
	},
	{
		name:    "order",
		pattern: regexp.MustCompile(`\b(order|status|track|tracking|where is my|shipment)\b`),
		answer: fixed("To check your **order status**:\n\n1️⃣ Visit your account page\n2️⃣ Click on 'Order History'\n3️⃣ Find your order for tracking details\n\n" +
			"📱 You can also check your email for tracking updates. If you need immediate help with a specific order, please share your order number!"),
	},
	{
		name:    "payment",
		pattern: regexp.MustCompile(`\b(payment|pay|credit card|paypal|checkout|billing)\b`),
		answer: fixed("We accept multiple **secure payment methods**:\n\n💳 **Payment Options:**\n" +
			"• Credit/Debit Cards (Visa, MasterCard)\n• bKash\n• Nagad\n• Rocket\n• Bank Transfer\n• Cash on Delivery\n\n" +
			"🔒 All payments are secured with SSL encryption. Having trouble with checkout? Let me know!"),
	},
	{
		name:    "farewell",
		pattern: regexp.MustCompile(`\b(bye|goodbye|thank you|thanks|thx)\b`),
		answer: func(f *Fallback, _ context.Context, _ string) string {
			return fmt.Sprintf("You're very welcome! 😊 Thank you for choosing %s. If you need any more help, just ask - "+
				"I'm here 24/7 powered by Groq AI! Have a wonderful day! 🌟", f.info.Name)
		},
	},
}

const defaultAnswer = "I'm here to help! 🤖 I'm powered by **Groq AI** and can assist you with:\n\n" +
	"• 🛍️ Product information and recommendations\n• 📦 Shipping and delivery questions\n• 📊 Order status and tracking\n" +
	"• 🔄 Return and refund policies\n• 💳 Payment options\n• ℹ️ General store information\n\nWhat would you like to know more about?"

const noKeywordsAnswer = "I'd love to help you find products! Could you tell me what specific item you're looking for? For example:\n\n" +
	"• \"Show me running shoes\"\n• \"I need a blue dress\"\n• \"Looking for smartphone accessories\"\n\nWhat can I help you find today?"

const searchTips = "• Using different keywords\n• Browsing our categories\n• Checking our featured products"

// Fallback answers without the completion upstream.
type Fallback struct {
	info    StoreInfo
	catalog store.CatalogStore
	logger  *slog.Logger
}

// NewFallback creates a rule-based responder. catalog may be nil, in which
// case product searches find nothing.
func NewFallback(info StoreInfo, catalog store.CatalogStore, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{info: info, catalog: catalog, logger: logger.With("component", "fallback")}
}

// Respond picks a canned answer for message.
func (f *Fallback) Respond(ctx context.Context, message string) string {
	lower := strings.ToLower(message)
	for _, t := range topics {
		if t.pattern.MatchString(lower) {
			f.logger.Debug("fallback topic matched", "topic", t.name)
			return t.answer(f, ctx, message)
		}
	}
	return defaultAnswer
}

func (f *Fallback) productSearch(ctx context.Context, message string) string {
	keywords := Keywords(message)
	if len(keywords) == 0 {
		return noKeywordsAnswer
	}
	query := strings.Join(keywords, " ")

	found := f.search(ctx, keywords)
	if len(found) > 0 {
		return fmt.Sprintf("Here are some products I found for '%s':\n\n", query) +
			FormatCards(found, f.info.Currency) +
			"Would you like more details about any of these products?"
	}

	popular := f.popular(ctx, popularLimit)
	if len(popular) > 0 {
		return fmt.Sprintf("I couldn't find any products matching '%s' right now. But here are some of our popular items:\n\n", query) +
			FormatCards(popular, f.info.Currency) +
			"\nYou could also try:\n" + searchTips
	}

	return fmt.Sprintf("I couldn't find any products matching '%s' right now. You could try:\n\n", query) +
		searchTips + "\n\nWould you like me to show you our popular items instead?"
}

func (f *Fallback) search(ctx context.Context, keywords []string) []*store.Product {
	if f.catalog == nil {
		return nil
	}
	found, err := f.catalog.SearchProducts(ctx, keywords, searchLimit)
	if err != nil {
		f.logger.Warn("product search failed", "error", err)
		return nil
	}
	return found
}

func (f *Fallback) popular(ctx context.Context, limit int) []*store.Product {
	if f.catalog == nil {
		return nil
	}
	found, err := f.catalog.PopularProducts(ctx, limit)
	if err != nil {
		f.logger.Warn("loading popular products failed", "error", err)
		return nil
	}
	return found
}
