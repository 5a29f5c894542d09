// ABOUTME: Product card rendering and search keyword extraction
// ABOUTME: Cards are escaped HTML blocks the widget shows without markdown processing

package completion

import (
	"html/template"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/nexcart/nexcart-gateway/internal/store"
)

// cardTemplate must start with the widget's product card marker.
var cardTemplate = template.Must(template.New("card").Parse(
	`<div class="nexcart-product-card">` +
		`{{if .ImageURL}}<img src="{{.ImageURL}}" alt="{{.Name}}" class="nexcart-product-image">{{end}}` +
		`<div class="nexcart-product-info">` +
		`<div class="nexcart-product-name">{{.Name}}</div>` +
		`<div class="nexcart-product-price">{{.Price}}</div>` +
		`{{if .Description}}<div class="nexcart-product-desc">{{.Description}}</div>{{end}}` +
		`<a href="{{.URL}}" class="nexcart-buy-btn" target="_blank">🛒 Buy Here</a>` +
		`</div></div>`))

type cardData struct {
	Name        string
	Price       string
	URL         string
	ImageURL    string
	Description string
}

const descriptionWords = 15

// FormatCard renders p as a product card with prices in currency.
func FormatCard(p *store.Product, currency string) string {
	var b strings.Builder
	err := cardTemplate.Execute(&b, cardData{
		Name:        p.Name,
		Price:       FormatPrice(p.Price, currency),
		URL:         p.URL,
		ImageURL:    p.ImageURL,
		Description: trimWords(p.ShortDescription, descriptionWords),
	})
	if err != nil {
		return ""
	}
	return b.String()
}

// FormatCards renders every product back to back.
func FormatCards(products []*store.Product, currency string) string {
	var b strings.Builder
	for _, p := range products {
		b.WriteString(FormatCard(p, currency))
	}
	return b.String()
}

// FormatPrice renders an amount with two decimals and thousands separators,
// for example ৳1,250.00.
func FormatPrice(amount float64, currency string) string {
	neg := amount < 0
	cents := int64(math.Round(math.Abs(amount) * 100))
	whole := strconv.FormatInt(cents/100, 10)

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(currency)
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	frac := strconv.FormatInt(cents%100, 10)
	if len(frac) < 2 {
		b.WriteByte('0')
	}
	b.WriteString(frac)
	return b.String()
}

func trimWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "…"
}

var (
	wordPattern = regexp.MustCompile(`[a-z'-]+`)
	stopWords   = map[string]bool{
		"i": true, "am": true, "looking": true, "for": true, "find": true,
		"show": true, "me": true, "want": true, "need": true, "a": true,
		"an": true, "the": true, "some": true, "any": true,
	}
)

// Keywords extracts product search terms from a visitor message by dropping
// filler words.
func Keywords(message string) []string {
	var out []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(message), -1) {
		w = strings.Trim(w, "'-")
		if w == "" || stopWords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}
