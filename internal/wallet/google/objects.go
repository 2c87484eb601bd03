package google

import (
	"fmt"

	"rewardjar/internal/domain"
	"rewardjar/internal/progress"
	"rewardjar/internal/wallet"
)

type LocalizedString struct {
	DefaultValue TranslatedString `json:"defaultValue"`
}

type TranslatedString struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

func localized(v string) *LocalizedString {
	return &LocalizedString{DefaultValue: TranslatedString{Language: "en-US", Value: v}}
}

type Image struct {
	SourceURI ImageURI `json:"sourceUri"`
}

type ImageURI struct {
	URI string `json:"uri"`
}

type Barcode struct {
	Type          string `json:"type"`
	Value         string `json:"value"`
	AlternateText string `json:"alternateText,omitempty"`
}

type TextModule struct {
	ID     string `json:"id"`
	Header string `json:"header"`
	Body   string `json:"body"`
}

type Message struct {
	ID     string `json:"id"`
	Header string `json:"header"`
	Body   string `json:"body"`
}

type LoyaltyClass struct {
	ID                 string    `json:"id"`
	IssuerName         string    `json:"issuerName"`
	ProgramName        string    `json:"programName"`
	ProgramLogo        *Image    `json:"programLogo,omitempty"`
	ReviewStatus       string    `json:"reviewStatus"`
	HexBackgroundColor string    `json:"hexBackgroundColor,omitempty"`
	Messages           []Message `json:"messages,omitempty"`
}

type LoyaltyPoints struct {
	Label   string        `json:"label"`
	Balance PointsBalance `json:"balance"`
}

type PointsBalance struct {
	String string `json:"string"`
}

type LoyaltyObject struct {
	ID                 string         `json:"id"`
	ClassID            string         `json:"classId"`
	State              string         `json:"state"`
	AccountID          string         `json:"accountId,omitempty"`
	AccountName        string         `json:"accountName,omitempty"`
	Barcode            Barcode        `json:"barcode"`
	LoyaltyPoints      *LoyaltyPoints `json:"loyaltyPoints,omitempty"`
	TextModulesData    []TextModule   `json:"textModulesData"`
	HexBackgroundColor string         `json:"hexBackgroundColor,omitempty"`
}

type GenericClass struct {
	ID                 string    `json:"id"`
	IssuerName         string    `json:"issuerName"`
	ProgramName        string    `json:"programName"`
	Logo               *Image    `json:"logo,omitempty"`
	HexBackgroundColor string    `json:"hexBackgroundColor,omitempty"`
	Messages           []Message `json:"messages,omitempty"`
}

type TimeInterval struct {
	End *DateTime `json:"end,omitempty"`
}

type DateTime struct {
	Date string `json:"date"`
}

type GenericObject struct {
	ID                 string           `json:"id"`
	ClassID            string           `json:"classId"`
	State              string           `json:"state"`
	CardTitle          *LocalizedString `json:"cardTitle"`
	Header             *LocalizedString `json:"header"`
	Subheader          *LocalizedString `json:"subheader,omitempty"`
	Logo               *Image           `json:"logo,omitempty"`
	Barcode            Barcode          `json:"barcode"`
	TextModulesData    []TextModule     `json:"textModulesData"`
	HexBackgroundColor string           `json:"hexBackgroundColor,omitempty"`
	ValidTimeInterval  *TimeInterval    `json:"validTimeInterval,omitempty"`
}

// Payload is the "payload" claim of a save JWT. Stamp cards fill the loyalty
// pair and memberships the generic pair.
type Payload struct {
	LoyaltyClasses []LoyaltyClass  `json:"loyaltyClasses,omitempty"`
	LoyaltyObjects []LoyaltyObject `json:"loyaltyObjects,omitempty"`
	GenericClasses []GenericClass  `json:"genericClasses,omitempty"`
	GenericObjects []GenericObject `json:"genericObjects,omitempty"`
}

// ClassID and ObjectID return the ids of the first class and object in p.
func (p Payload) ClassID() string {
	switch {
	case len(p.LoyaltyClasses) > 0:
		return p.LoyaltyClasses[0].ID
	case len(p.GenericClasses) > 0:
		return p.GenericClasses[0].ID
	}
	return ""
}

func (p Payload) ObjectID() string {
	switch {
	case len(p.LoyaltyObjects) > 0:
		return p.LoyaltyObjects[0].ID
	case len(p.GenericObjects) > 0:
		return p.GenericObjects[0].ID
	}
	return ""
}

// ObjectState maps card progress to a Google Wallet object state.
func ObjectState(p progress.Progress) string {
	switch p.State() {
	case progress.StateExpired:
		return "EXPIRED"
	case progress.StateCompleted:
		return "COMPLETED"
	}
	return "ACTIVE"
}

// BuildPayload builds the class and object for in under issuerID.
func BuildPayload(issuerID string, in wallet.Input) (Payload, error) {
	classID := issuerID + "." + in.Template.ID
	objectID := issuerID + "." + in.SerialNumber()
	color := hexColor(wallet.ThemeFor(in).Background)
	barcode := Barcode{Type: "QR_CODE", Value: in.ScanMessage(), AlternateText: in.SerialNumber()}
	var logo *Image
	if in.Business.LogoURL != "" {
		logo = &Image{SourceURI: ImageURI{URI: in.Business.LogoURL}}
	}
	modules := textModules(in)
	messages := classMessages(in)
	accountName := ""
	if in.Customer != nil {
		accountName = in.Customer.Name
	}

	switch in.Card.Kind {
	case domain.CardKindStamp:
		return Payload{
			LoyaltyClasses: []LoyaltyClass{{
				ID:                 classID,
				IssuerName:         in.Business.Name,
				ProgramName:        in.Title(),
				ProgramLogo:        logo,
				ReviewStatus:       "UNDER_REVIEW",
				HexBackgroundColor: color,
				Messages:           messages,
			}},
			LoyaltyObjects: []LoyaltyObject{{
				ID:          objectID,
				ClassID:     classID,
				State:       ObjectState(in.Progress),
				AccountID:   in.Card.CustomerID,
				AccountName: accountName,
				Barcode:     barcode,
				LoyaltyPoints: &LoyaltyPoints{
					Label:   "Stamps",
					Balance: PointsBalance{String: fmt.Sprintf("%d/%d", in.Progress.StampsUsed, in.Progress.StampsRequired)},
				},
				TextModulesData:    modules,
				HexBackgroundColor: color,
			}},
		}, nil
	case domain.CardKindMembership:
		obj := GenericObject{
			ID:                 objectID,
			ClassID:            classID,
			State:              ObjectState(in.Progress),
			CardTitle:          localized(in.Business.Name),
			Header:             localized(in.Title()),
			Logo:               logo,
			Barcode:            barcode,
			TextModulesData:    modules,
			HexBackgroundColor: color,
		}
		if accountName != "" {
			obj.Subheader = localized(accountName)
		}
		if in.Progress.ExpiryDate != nil {
			obj.ValidTimeInterval = &TimeInterval{End: &DateTime{Date: in.Progress.ExpiryDate.UTC().Format("2006-01-02T15:04:05Z")}}
		}
		return Payload{
			GenericClasses: []GenericClass{{
				ID:                 classID,
				IssuerName:         in.Business.Name,
				ProgramName:        in.Title(),
				Logo:               logo,
				HexBackgroundColor: color,
				Messages:           messages,
			}},
			GenericObjects: []GenericObject{obj},
		}, nil
	}
	return Payload{}, fmt.Errorf("unsupported card kind %q", in.Card.Kind)
}

// classMessages carries the reward and a status line for the card's state.
func classMessages(in wallet.Input) []Message {
	p := in.Progress
	var msgs []Message
	if in.Template.RewardDescription != "" {
		msgs = append(msgs, Message{ID: "reward", Header: "Reward", Body: in.Template.RewardDescription})
	}
	var status string
	switch p.State() {
	case progress.StateExpired:
		status = "This membership has expired"
	case progress.StateCompleted:
		status = "Reward unlocked"
		if in.Card.Kind == domain.CardKindMembership {
			status = "All sessions used"
		}
	default:
		if in.Card.Kind == domain.CardKindMembership {
			status = fmt.Sprintf("%d sessions remaining", p.Remaining)
		} else {
			status = fmt.Sprintf("%d more stamps to your reward", p.Remaining)
		}
	}
	return append(msgs, Message{ID: "status", Header: "Status", Body: status})
}

func textModules(in wallet.Input) []TextModule {
	p := in.Progress
	var mods []TextModule
	if in.Template.RewardDescription != "" {
		mods = append(mods, TextModule{ID: "reward", Header: "Reward", Body: in.Template.RewardDescription})
	}
	switch in.Card.Kind {
	case domain.CardKindStamp:
		mods = append(mods, TextModule{ID: "progress", Header: "Progress",
			Body: fmt.Sprintf("%d of %d stamps (%d%%)", p.StampsUsed, p.StampsRequired, p.PercentComplete)})
	case domain.CardKindMembership:
		mods = append(mods, TextModule{ID: "progress", Header: "Sessions",
			Body: fmt.Sprintf("%d of %d used, %d remaining", p.SessionsUsed, p.SessionsTotal, p.Remaining)})
		expiry := "No expiry"
		if p.ExpiryDate != nil {
			expiry = p.ExpiryDate.UTC().Format("2006-01-02")
			if p.IsExpired {
				expiry = "Expired " + expiry
			}
		}
		mods = append(mods, TextModule{ID: "expiry", Header: "Expires", Body: expiry})
	}
	return mods
}

// hexColor converts "rgb(r, g, b)" to "#rrggbb".
func hexColor(rgb string) string {
	var r, g, b int
	if _, err := fmt.Sscanf(rgb, "rgb(%d, %d, %d)", &r, &g, &b); err != nil {
		return ""
	}
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}
