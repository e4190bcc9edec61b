package dashboard

// Figure is a Plotly figure in the JSON shape Plotly.newPlot accepts.
type Figure struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

// Trace is a single scatter trace.
type Trace struct {
	Type          string    `json:"type"`
	Mode          string    `json:"mode"`
	Name          string    `json:"name,omitempty"`
	X             any       `json:"x"`
	Y             []float64 `json:"y"`
	Text          []string  `json:"text,omitempty"`
	TextPosition  string    `json:"textposition,omitempty"`
	CustomData    []string  `json:"customdata,omitempty"`
	HoverTemplate string    `json:"hovertemplate,omitempty"`
	Marker        Marker    `json:"marker"`
}

// Marker styles trace points. Size and Color hold either a scalar or one
// value per point; numeric colors are mapped through ColorScale.
type Marker struct {
	Size       any       `json:"size,omitempty"`
	Color      any       `json:"color,omitempty"`
	Symbol     string    `json:"symbol,omitempty"`
	SizeMode   string    `json:"sizemode,omitempty"`
	Opacity    float64   `json:"opacity,omitempty"`
	ColorScale string    `json:"colorscale,omitempty"`
	ShowScale  bool      `json:"showscale,omitempty"`
	ColorBar   *ColorBar `json:"colorbar,omitempty"`
}

// ColorBar titles the color scale legend.
type ColorBar struct {
	Title Text `json:"title"`
}

// Layout holds the figure title and axes.
type Layout struct {
	Title     Text   `json:"title"`
	XAxis     Axis   `json:"xaxis"`
	YAxis     Axis   `json:"yaxis"`
	HoverMode string `json:"hovermode,omitempty"`
}

// Axis configures one axis.
type Axis struct {
	Title      Text   `json:"title"`
	Type       string `json:"type,omitempty"`
	TickFormat string `json:"tickformat,omitempty"`
}

// Text is Plotly's {text: ...} title object.
type Text struct {
	Text string `json:"text"`
}

const (
	colorUser  = "red"
	colorPeer  = "blue"
	colorBench = "green"

	bubbleMinPx = 8
	bubbleMaxPx = 60
)
