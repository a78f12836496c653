package selection

// Slot names a file input of the confirmation form.
type Slot string

// File slots of the confirmation form, in upload order.
const (
	SlotLogo                Slot = "logo"
	SlotHeadshot            Slot = "headshot"
	SlotAttachment          Slot = "attachment"
	SlotAdditionalDocuments Slot = "additional_documents"
)

const documentTypes = ".pdf,.doc,.docx,.ppt,.pptx,.zip"

var slotConfigs = map[Slot]Config{
	SlotLogo:                {Label: "University Logo (optional)", Accept: "image/*"},
	SlotHeadshot:            {Label: "Representative Headshot (optional)", Accept: "image/*"},
	SlotAttachment:          {Label: "Upload Brochure / Guidelines", Accept: documentTypes},
	SlotAdditionalDocuments: {Label: "Upload Additional Documents", Accept: documentTypes + ",image/*", Multiple: true},
}

// Slots returns the form slots in upload order.
func Slots() []Slot {
	return []Slot{SlotLogo, SlotHeadshot, SlotAttachment, SlotAdditionalDocuments}
}

// ParseSlot returns the slot named s.
func ParseSlot(s string) (Slot, bool) {
	slot := Slot(s)
	_, ok := slotConfigs[slot]
	return slot, ok
}

// Config returns the field configuration of the slot.
func (s Slot) Config() Config {
	return slotConfigs[s]
}

// URLField is the name of the hidden input carrying the pre-resolved URLs of the slot.
func (s Slot) URLField() string {
	return string(s) + "_url"
}
