package domain

import (
	"encoding/json"
	"time"
)

// Geometry is a GeoJSON geometry object. Coordinates are kept raw and decoded by the
// geometry package according to Type.
type Geometry struct {
	Type        string          `json:"type" validate:"required,oneof=Point LineString Polygon MultiPoint MultiLineString MultiPolygon"`
	Coordinates json.RawMessage `json:"coordinates" validate:"required"`
}

// MethodologyReference points a PDD at a registered methodology version.
type MethodologyReference struct {
	ID      string  `json:"id" validate:"required,max=100"`
	Version string  `json:"version" validate:"required,methodology_version"`
	Name    *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Type    *string `json:"type,omitempty" validate:"omitempty,max=100"`
}

// Link is a typed hyperlink attached to a document.
type Link struct {
	Rel   string  `json:"rel" validate:"required,oneof=self related-mrv methodology monitor predecessor successor supporting-doc data-source"`
	Href  string  `json:"href" validate:"required,http_url"`
	Type  *string `json:"type,omitempty"`
	Title *string `json:"title,omitempty" validate:"omitempty,max=200"`
}

// PDDProperties are the GeoJSON properties of a Project Design Document.
type PDDProperties struct {
	Name                  string                 `json:"name" validate:"required,min=1,max=200"`
	Description           *string                `json:"description,omitempty" validate:"omitempty,max=2000"`
	CreationDate          *time.Time             `json:"creation_date,omitempty"`
	LastUpdated           *time.Time             `json:"last_updated,omitempty"`
	ProjectType           string                 `json:"project_type" validate:"required,oneof=afforestation reforestation soil_carbon biochar direct_air_capture enhanced_weathering blue_carbon biomass_energy_ccs"`
	Status                string                 `json:"status,omitempty"`
	ActorID               string                 `json:"actor_id" validate:"required,max=100"`
	Methodology           *MethodologyReference  `json:"methodology" validate:"required"`
	BaselineScenario      *string                `json:"baseline_scenario,omitempty" validate:"omitempty,max=1000"`
	ExpectedAnnualBenefit *float64               `json:"expected_annual_benefit,omitempty" validate:"omitempty,gte=0"`
	Contact               map[string]interface{} `json:"contact,omitempty"`
}

// PDDDocument is a Project Design Document as submitted by a proponent.
type PDDDocument struct {
	Type            string           `json:"type" validate:"required,eq=Feature"`
	ID              string           `json:"id,omitempty" validate:"omitempty,max=100"`
	OGCRVersion     string           `json:"ogcr_version" validate:"required,ogcr_version"`
	Profile         string           `json:"profile" validate:"required,eq=pdd"`
	Geometry        Geometry         `json:"geometry" validate:"required"`
	BBox            []float64        `json:"bbox,omitempty" validate:"omitempty,len=4"`
	Properties      PDDProperties    `json:"properties" validate:"required"`
	LedgerReference *LedgerReference `json:"ledger_reference,omitempty" validate:"-"`
	Links           []Link           `json:"links,omitempty" validate:"omitempty,dive"`
}

// MethodologyData carries the measurement inputs of a monitoring report.
type MethodologyData struct {
	Parameters         map[string]interface{}   `json:"parameters" validate:"required"`
	MeasurementDevices []map[string]interface{} `json:"measurement_devices,omitempty"`
	SamplingStrategy   *string                  `json:"sampling_strategy,omitempty" validate:"omitempty,max=500"`
	DataQualityFlags   map[string]interface{}   `json:"data_quality_flags,omitempty"`
	ProcessingNotes    *string                  `json:"processing_notes,omitempty" validate:"omitempty,max=2000"`
}

type NetRemovalEstimate struct {
	Value float64 `json:"value" validate:"gte=0"`
	Unit  string  `json:"unit" validate:"required,oneof=tCO2e kgCO2e tCO2 kgCO2"`
	Basis *string `json:"basis,omitempty" validate:"omitempty,max=500"`
}

type Uncertainty struct {
	Min             float64 `json:"min"`
	Max             float64 `json:"max" validate:"gtefield=Min"`
	ConfidenceLevel float64 `json:"confidence_level" validate:"gte=0,lte=1"`
}

type VerifierInfo struct {
	Organization    string  `json:"organization" validate:"required,min=1,max=200"`
	AccreditationID *string `json:"accreditation_id,omitempty" validate:"omitempty,max=100"`
	ReviewerName    *string `json:"reviewer_name,omitempty" validate:"omitempty,max=100"`
}

// MRVProperties are the GeoJSON properties of a Monitoring Report.
type MRVProperties struct {
	ProjectID          string             `json:"project_id,omitempty" validate:"omitempty,max=100"`
	MethodologyID      string             `json:"methodology_id" validate:"required,max=100"`
	StartDate          string             `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate            string             `json:"end_date" validate:"required,datetime=2006-01-02"`
	MethodologyData    MethodologyData    `json:"methodology_data" validate:"required"`
	NetRemovalEstimate NetRemovalEstimate `json:"net_removal_estimate" validate:"required"`
	TotalUncertainty   *Uncertainty       `json:"total_uncertainty,omitempty"`
	VerificationStatus string             `json:"verification_status,omitempty"`
	VerificationDate   *time.Time         `json:"verification_date,omitempty"`
	VerifierInfo       *VerifierInfo      `json:"verifier_info,omitempty"`
}

// MRVDocument is a Monitoring, Reporting and Verification document for one period.
type MRVDocument struct {
	Type            string           `json:"type" validate:"required,eq=Feature"`
	ID              string           `json:"id,omitempty" validate:"omitempty,max=100"`
	OGCRVersion     string           `json:"ogcr_version" validate:"required,ogcr_version"`
	Profile         string           `json:"profile" validate:"required,eq=mrv"`
	Geometry        *Geometry        `json:"geometry,omitempty"`
	BBox            []float64        `json:"bbox,omitempty" validate:"omitempty,len=4"`
	Properties      MRVProperties    `json:"properties" validate:"required"`
	LedgerReference *LedgerReference `json:"ledger_reference,omitempty" validate:"-"`
	Links           []Link           `json:"links,omitempty" validate:"omitempty,dive"`
}

// DateLayout is the wire format of MRV reporting period bounds.
const DateLayout = "2006-01-02"
