package models

// IndexConstituent represents a single constituent row of an index list.
type IndexConstituent struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name,omitempty"` // "Security" column, when present
	Sector      string `json:"sector,omitempty"`
	SubIndustry string `json:"sub_industry,omitempty"`
}

// IndexInfo summarises one available index list.
type IndexInfo struct {
	ID           string   `json:"id"` // file base name, e.g. "SP500_Index"
	Constituents int      `json:"constituents"`
	Sectors      []string `json:"sectors"`
}
