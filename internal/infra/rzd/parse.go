package rzd

import (
	"regexp"
	"strings"
	"unicode"

	"rzd_seat_bot/internal/domain/availability"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Candidate containers for a carriage/seat offer, most specific first. The
// first selector with any hit wins.
var seatBlockSelectors = []string{
	`div[class*="seat"]`,
	`div[class*="place"]`,
	`div[class*="car"]`,
	`span[class*="seat"]`,
	`td[class*="seat"]`,
}

var trainBlockSelectors = []string{
	"div.train-item",
	"div.route-item",
	"tr.train-row",
	"div.ticket-item",
}

var (
	priceSelectors = []string{`[class*="price"]`, `[class*="cost"]`}
	carSelectors   = []string{`[class*="car-num"]`, `[class*="wagon"]`, `[class*="car"]`}
	seatSelectors  = []string{`[class*="seat-num"]`, `[class*="place-num"]`, `[class*="seat"]`, `[class*="place"]`}
)

var (
	takenMarkers    = []string{"забронировано", "занято", "недоступно", "нет мест"}
	soldOutMarkers  = []string{"нет мест", "мест нет", "билетов нет", "закончились", "sold out"}
	inStockMarkers  = []string{"есть места", "свободные места", "свободных мест"}
	trainNumberExpr = regexp.MustCompile(`\d{3,4}[А-ЯЁA-Z]`)
)

// word stems used to match a block against the requested class and berth
var (
	classStems = map[string]string{
		"плацкарт": "плацкарт",
		"купе":     "купе",
		"св":       "св",
	}
	berthStems = map[string]string{
		"верхняя": "верхн",
		"нижняя":  "нижн",
	}
)

// parseSeats decides availability for seatClass/berth from a train page.
//
// Offer blocks are matched first. Blocks count as offers only when at least
// one of them names a seat class, since the loose selectors also catch
// unrelated markup like cards. Without offers, explicit sold-out or in-stock
// wording is used. A page with neither yields ErrNoData.
func parseSeats(doc *goquery.Document, seatClass, berth string) (*availability.Verdict, error) {
	blocks := firstMatching(doc.Selection, seatBlockSelectors)
	if namesSeatClass(blocks) {
		verdict := &availability.Verdict{}
		blocks.EachWithBreak(func(_ int, block *goquery.Selection) bool {
			if !offerMatches(spacedText(block), seatClass, berth) {
				return true
			}
			verdict.Available = true
			verdict.Price = firstText(block, priceSelectors)
			verdict.CarNumber = firstText(block, carSelectors)
			verdict.SeatNumber = firstText(block, seatSelectors)
			return false
		})
		return verdict, nil
	}

	page := strings.ToLower(doc.Find("body").Text())
	if containsAny(page, soldOutMarkers) {
		return &availability.Verdict{Available: false}, nil
	}
	if containsAny(page, inStockMarkers) {
		return &availability.Verdict{Available: true}, nil
	}
	return nil, availability.ErrNoData
}

// namesSeatClass reports whether any block mentions a known seat class.
func namesSeatClass(blocks *goquery.Selection) bool {
	found := false
	blocks.EachWithBreak(func(_ int, block *goquery.Selection) bool {
		words := splitWords(strings.ToLower(spacedText(block)))
		for _, stem := range classStems {
			if hasWord(words, stem, stem == "св") {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func offerMatches(text, seatClass, berth string) bool {
	text = strings.ToLower(text)
	if containsAny(text, takenMarkers) {
		return false
	}
	words := splitWords(text)

	stem, ok := classStems[strings.ToLower(seatClass)]
	if !ok || !hasWord(words, stem, stem == "св") {
		return false
	}
	if strings.ToLower(seatClass) == "купе" {
		if b, ok := berthStems[strings.ToLower(berth)]; ok && !hasWord(words, b, false) {
			return false
		}
	}
	return true
}

// parseTrains extracts the train list from a search results page.
func parseTrains(doc *goquery.Document) []availability.Train {
	blocks := firstMatching(doc.Selection, trainBlockSelectors)
	trains := make([]availability.Train, 0, blocks.Length())
	seen := make(map[string]bool)
	blocks.Each(func(_ int, block *goquery.Selection) {
		number := trainNumberExpr.FindString(firstText(block, []string{`[class*="number"]`}))
		if number == "" {
			number = trainNumberExpr.FindString(spacedText(block))
		}
		if number == "" || seen[number] {
			return
		}
		seen[number] = true
		trains = append(trains, availability.Train{
			Number:        number,
			DepartureTime: firstText(block, []string{`[class*="departure"]`}),
			ArrivalTime:   firstText(block, []string{`[class*="arrival"]`}),
			Duration:      firstText(block, []string{`[class*="duration"]`}),
		})
	})
	return trains
}

func firstMatching(root *goquery.Selection, selectors []string) *goquery.Selection {
	for _, sel := range selectors {
		if found := root.Find(sel); found.Length() > 0 {
			return found
		}
	}
	return root.Find(selectors[0])
}

func firstText(block *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(block.Find(sel).First().Text()); text != "" {
			return strings.Join(strings.Fields(text), " ")
		}
	}
	return ""
}

// spacedText is Selection.Text with text nodes separated by spaces, so that
// adjacent elements do not glue their words together.
func spacedText(sel *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// hasWord reports whether some word starts with stem, or equals it when exact.
func hasWord(words []string, stem string, exact bool) bool {
	for _, w := range words {
		if w == stem || (!exact && strings.HasPrefix(w, stem)) {
			return true
		}
	}
	return false
}
