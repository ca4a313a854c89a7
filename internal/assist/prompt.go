package assist

import (
	"encoding/json"
	"fmt"
	"strings"

	"chattie/internal/business"
)

// fieldLabels maps collect-field keys to the Dutch labels shown to the model.
// Unknown keys fall through verbatim so operator-defined fields still work.
var fieldLabels = map[string]string{
	"name":       "Naam van de klant",
	"email":      "E-mailadres",
	"phone":      "Telefoonnummer (06-nummer)",
	"gardenSize": "Afmetingen van de tuin (bij benadering in meters)",
	"photos":     "Foto's van de tuin",
	"address":    "Adres",
	"budget":     "Budget indicatie",
	"timeline":   "Wanneer ze het werk willen laten uitvoeren",
}

var toneInstructions = map[business.Tone]string{
	business.ToneFriendly:     "Wees vriendelijk en warm in je communicatie.",
	business.ToneProfessional: "Wees professioneel maar toegankelijk.",
	business.ToneCasual:       "Wees casual en informeel, alsof je met een vriend praat.",
	business.ToneFormal:       `Wees formeel en beleefd, gebruik "u" in plaats van "je".`,
}

// scrapedSummary is the subset of the stored site snapshot used in prompts.
type scrapedSummary struct {
	Description string   `json:"description"`
	Services    []string `json:"services"`
	About       string   `json:"about"`
}

// buildSystemPrompt renders the business profile into the instruction block
// for customer conversations.
func buildSystemPrompt(cfg business.Config) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Je bent een vriendelijke en professionele assistent voor %s. Je helpt potentiële klanten die contact opnemen via WhatsApp of e-mail.\n\n", cfg.BusinessName)

	b.WriteString("## Over het bedrijf\n")
	fmt.Fprintf(&b, "Naam: %s\n", cfg.BusinessName)
	var scraped scrapedSummary
	if len(cfg.ScrapedContent) > 0 && json.Unmarshal(cfg.ScrapedContent, &scraped) == nil && scraped.Description != "" {
		fmt.Fprintf(&b, "Beschrijving: %s\n", scraped.Description)
		if len(scraped.Services) > 0 {
			fmt.Fprintf(&b, "Diensten: %s\n", strings.Join(scraped.Services, ", "))
		}
		if scraped.About != "" {
			fmt.Fprintf(&b, "Over ons: %s\n", scraped.About)
		}
	} else if cfg.BusinessDescription != "" {
		fmt.Fprintf(&b, "Beschrijving: %s\n", cfg.BusinessDescription)
	}

	b.WriteString("\n## Jouw doel\n")
	b.WriteString("Je moet de volgende informatie verzamelen voordat een offerte gemaakt kan worden:\n")
	for i, field := range cfg.CollectFields {
		label, ok := fieldLabels[field]
		if !ok {
			label = field
		}
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, label)
	}

	tone, ok := toneInstructions[cfg.Tone]
	if !ok {
		tone = toneInstructions[business.ToneFriendly]
	}

	b.WriteString("\n## Instructies\n")
	fmt.Fprintf(&b, "- %s\n", tone)
	b.WriteString("- Wees efficiënt - verzamel de informatie in zo min mogelijk berichten\n")
	b.WriteString("- Als de klant al informatie geeft, bevestig dit en vraag naar de ontbrekende informatie\n")
	b.WriteString("- Als ze foto's sturen, bedank ze en ga door met de volgende vraag\n")
	b.WriteString("- Zodra je alle informatie hebt, bedank de klant en zeg dat ze binnenkort een reactie ontvangen\n")
	b.WriteString("- Beantwoord eenvoudige vragen over het bedrijf, maar leid het gesprek terug naar het verzamelen van de benodigde informatie\n")
	if cfg.Language == business.LanguageDutch {
		b.WriteString("- Schrijf in het Nederlands\n")
	} else {
		b.WriteString("- Write in English\n")
	}

	if cfg.CustomInstructions != "" {
		fmt.Fprintf(&b, "\n## Extra instructies van de bedrijfseigenaar\n%s\n", cfg.CustomInstructions)
	}
	if cfg.GreetingMessage != "" {
		fmt.Fprintf(&b, "\n## Eerste bericht\nAls dit het eerste bericht is van een nieuwe klant, begin dan met: %q\n", cfg.GreetingMessage)
	}
	if cfg.ClosingMessage != "" {
		fmt.Fprintf(&b, "\n## Afsluiting\nAls alle informatie verzameld is, sluit af met: %q\n", cfg.ClosingMessage)
	}

	b.WriteString(`
## Formaat
Reageer altijd in JSON-formaat:
{
  "message": "Je antwoord aan de klant",
  "collectedInfo": {
    "name": "naam als genoemd",
    "email": "email als genoemd",
    "phone": "telefoonnummer als genoemd",
    "gardenSize": "afmetingen als genoemd"
  },
  "conversationComplete": true/false
}

Zet collectedInfo velden alleen als de klant die informatie IN DIT BERICHT geeft.
Zet conversationComplete op true alleen als ALLE benodigde informatie verzameld is.`)

	return b.String()
}

// buildKnownInfo renders what is already collected, so the model does not ask
// again. Empty when nothing is known.
func buildKnownInfo(pc PromptContext) string {
	if pc.ContactName == "" && pc.ContactEmail == "" && pc.ContactPhone == "" && pc.GardenSize == "" && !pc.HasPhotos {
		return ""
	}
	var b strings.Builder
	b.WriteString("Reeds verzamelde informatie over deze klant:\n")
	if pc.ContactName != "" {
		fmt.Fprintf(&b, "- Naam: %s\n", pc.ContactName)
	}
	if pc.ContactEmail != "" {
		fmt.Fprintf(&b, "- E-mail: %s\n", pc.ContactEmail)
	}
	if pc.ContactPhone != "" {
		fmt.Fprintf(&b, "- Telefoon: %s\n", pc.ContactPhone)
	}
	if pc.GardenSize != "" {
		fmt.Fprintf(&b, "- Tuinafmetingen: %s\n", pc.GardenSize)
	}
	if pc.HasPhotos {
		b.WriteString("- Foto's: Ontvangen\n")
	}
	return b.String()
}

func buildEmailDraftPrompt(cfg business.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Je bent een assistent voor %s die helpt met het beantwoorden van e-mails.\n\n", cfg.BusinessName)
	if cfg.BusinessDescription != "" {
		fmt.Fprintf(&b, "Over het bedrijf: %s\n\n", cfg.BusinessDescription)
	}
	b.WriteString("Schrijf een professionele maar vriendelijke e-mail reactie.\n")
	if cfg.Language == business.LanguageDutch {
		b.WriteString("- Schrijf in het Nederlands (je/jij tenzij anders aangegeven)\n")
	} else {
		b.WriteString("- Write in English\n")
	}
	b.WriteString("- Korte, duidelijke zinnen\n")
	b.WriteString("- Vraag om de benodigde informatie als die ontbreekt\n")
	if cfg.CustomInstructions != "" {
		fmt.Fprintf(&b, "\nExtra instructies: %s\n", cfg.CustomInstructions)
	}
	b.WriteString("\nGeef ALLEEN de e-mail tekst terug, geen subject line of andere metadata.")
	return b.String()
}

const classifyPrompt = `Je beoordeelt inkomende e-mail voor een klein bedrijf.
Deel elke e-mail in als precies één van: CUSTOMER (een (potentiële) klant met een vraag of aanvraag), SUPPLIER (leverancier of zakelijke partner), SPAM (ongevraagde reclame of phishing), OTHER (al het overige).

Reageer altijd in JSON-formaat:
{
  "classification": "CUSTOMER|SUPPLIER|SPAM|OTHER",
  "confidence": "high|medium|low",
  "reason": "korte motivatie"
}`

const categorizePrompt = `Categoriseer de volgende website-inhoud in deze categorieën. Geef output als JSON:
{
  "diensten": [{"naam": "...", "beschrijving": "..."}],
  "prijsindicaties": "..." of null,
  "werkgebied": ["regio1", "regio2"],
  "veelgestelde_vragen": [{"vraag": "...", "antwoord": "..."}],
  "over_het_bedrijf": "...",
  "contactinfo": {"adres": "...", "telefoon": "...", "email": "...", "openingstijden": "..."},
  "projecten": ["beschrijving1", "beschrijving2"]
}

Extraheer alleen wat daadwerkelijk op de website staat. Laat velden leeg als de info niet beschikbaar is.`
