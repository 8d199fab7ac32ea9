package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tfst/carrier-portal/internal/observability"
)

const apiVersion = "v58.0"

// RESTClient talks to the CRM's REST/SOQL API using the per-session
// credential. No automatic retries: a failed call is a failed operation.
type RESTClient struct {
	httpClient *http.Client
}

func NewRESTClient(timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{httpClient: &http.Client{Timeout: timeout}}
}

func (c *RESTClient) FetchUserInfo(ctx context.Context, cred *Credential) (*UserInfo, error) {
	var payload struct {
		UserID string `json:"user_id"`
		Sub    string `json:"sub"`
		Email  string `json:"email"`
		Name   string `json:"name"`
	}
	if err := c.getJSON(ctx, cred, "/services/oauth2/userinfo", &payload); err != nil {
		observability.RecordUpstreamCall(ctx, "crm", "userinfo", "error")
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	observability.RecordUpstreamCall(ctx, "crm", "userinfo", "success")
	id := payload.UserID
	if id == "" {
		id = payload.Sub
	}
	return &UserInfo{UserID: id, Email: payload.Email, Name: payload.Name}, nil
}

func (c *RESTClient) FindCarrierForUser(ctx context.Context, cred *Credential, userID string) (*Carrier, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Name, Email__c, Contact_Number__c, Is_Active__c, "+
			"Can_Update_Shipments__c, Can_Upload_Documents__c, Can_View_Analytics__c "+
			"FROM Master_Carrier__c WHERE Contact_Person__c = '%s' LIMIT 1",
		soqlEscape(userID))
	records, err := c.query(ctx, cred, soql)
	if err != nil {
		observability.RecordUpstreamCall(ctx, "crm", "find_carrier", "error")
		return nil, fmt.Errorf("find carrier: %w", err)
	}
	if len(records) == 0 {
		observability.RecordUpstreamCall(ctx, "crm", "find_carrier", "not_found")
		return nil, ErrCarrierNotFound
	}
	observability.RecordUpstreamCall(ctx, "crm", "find_carrier", "success")
	rec := records[0]
	return &Carrier{
		ID:                 stringField(rec, "Id"),
		Name:               stringField(rec, "Name"),
		Email:              stringField(rec, "Email__c"),
		ContactNumber:      stringField(rec, "Contact_Number__c"),
		IsActive:           boolField(rec, "Is_Active__c"),
		CanUpdateShipments: boolField(rec, "Can_Update_Shipments__c"),
		CanUploadDocuments: boolField(rec, "Can_Upload_Documents__c"),
		CanViewAnalytics:   boolField(rec, "Can_View_Analytics__c"),
	}, nil
}

func (c *RESTClient) ListCarrierShipments(ctx context.Context, cred *Credential, carrierID string, limit int) ([]Shipment, error) {
	if limit <= 0 {
		limit = 200
	}
	soql := fmt.Sprintf(
		"SELECT Id, Name, Carrier__c, Status__c, Shipment_Type__c, Project_Reference__c, Service_Level__c, "+
			"Total_Weight__c, Total_Volume__c, Required_Delivery_Date__c, Predicted_Delivery_Date__c, "+
			"Driver_Name__c, Driver_Phone__c, Special_Instructions__c "+
			"FROM Shipment__c WHERE Carrier__c = '%s' AND Status__c NOT IN ('Delivered', 'Cancelled') "+
			"ORDER BY Predicted_Delivery_Date__c ASC LIMIT %d",
		soqlEscape(carrierID), limit)
	records, err := c.query(ctx, cred, soql)
	if err != nil {
		observability.RecordUpstreamCall(ctx, "crm", "list_shipments", "error")
		return nil, fmt.Errorf("list carrier shipments: %w", err)
	}
	observability.RecordUpstreamCall(ctx, "crm", "list_shipments", "success")
	shipments := make([]Shipment, 0, len(records))
	for _, rec := range records {
		shipments = append(shipments, shipmentFromRecord(rec))
	}
	return shipments, nil
}

func (c *RESTClient) GetShipment(ctx context.Context, cred *Credential, key string) (*Shipment, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Name, Carrier__c, Status__c, Shipment_Type__c, Project_Reference__c, Service_Level__c, "+
			"Total_Weight__c, Total_Volume__c, Required_Delivery_Date__c, Predicted_Delivery_Date__c, "+
			"Driver_Name__c, Driver_Phone__c, Special_Instructions__c "+
			"FROM Shipment__c WHERE Id = '%s' OR Name = '%s' LIMIT 1",
		soqlEscape(key), soqlEscape(key))
	records, err := c.query(ctx, cred, soql)
	if err != nil {
		observability.RecordUpstreamCall(ctx, "crm", "get_shipment", "error")
		return nil, fmt.Errorf("get shipment: %w", err)
	}
	if len(records) == 0 {
		observability.RecordUpstreamCall(ctx, "crm", "get_shipment", "not_found")
		return nil, ErrShipmentNotFound
	}
	observability.RecordUpstreamCall(ctx, "crm", "get_shipment", "success")
	s := shipmentFromRecord(records[0])
	return &s, nil
}

func (c *RESTClient) ListShipmentStages(ctx context.Context, cred *Credential, shipmentID string) ([]Stage, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Shipment__c, Stage_Number__c, Stage_Type__c, Status__c, "+
			"Pickup_Location_Name__c, Delivery_Location_Name__c, Scheduled_Start__c, Scheduled_End__c "+
			"FROM Shipment_Stage__c WHERE Shipment__c = '%s' ORDER BY Stage_Number__c ASC",
		soqlEscape(shipmentID))
	records, err := c.query(ctx, cred, soql)
	if err != nil {
		observability.RecordUpstreamCall(ctx, "crm", "list_stages", "error")
		return nil, fmt.Errorf("list shipment stages: %w", err)
	}
	observability.RecordUpstreamCall(ctx, "crm", "list_stages", "success")
	stages := make([]Stage, 0, len(records))
	for _, rec := range records {
		stages = append(stages, Stage{
			ID:               stringField(rec, "Id"),
			ShipmentID:       stringField(rec, "Shipment__c"),
			StageNumber:      intField(rec, "Stage_Number__c"),
			StageType:        stringField(rec, "Stage_Type__c"),
			Status:           stringField(rec, "Status__c"),
			PickupLocation:   stringField(rec, "Pickup_Location_Name__c"),
			DeliveryLocation: stringField(rec, "Delivery_Location_Name__c"),
			ScheduledStart:   stringField(rec, "Scheduled_Start__c"),
			ScheduledEnd:     stringField(rec, "Scheduled_End__c"),
		})
	}
	return stages, nil
}

func (c *RESTClient) UpdateShipmentStatus(ctx context.Context, cred *Credential, key string, update StatusUpdate) error {
	id := key
	if !looksLikeRecordID(key) {
		shipment, err := c.GetShipment(ctx, cred, key)
		if err != nil {
			return err
		}
		id = shipment.ID
	}
	fields := map[string]any{
		"Status__c":             update.Status,
		"Last_Location_Time__c": time.Now().UTC().Format(time.RFC3339),
	}
	if update.Location != nil {
		fields["Current_Coordinates__c"] = fmt.Sprintf("%f,%f", update.Location.Lat, update.Location.Lng)
	}
	if update.Driver != nil {
		if update.Driver.Name != "" {
			fields["Driver_Name__c"] = update.Driver.Name
		}
		if update.Driver.Phone != "" {
			fields["Driver_Phone__c"] = update.Driver.Phone
		}
	}
	err := c.patchJSON(ctx, cred, "/services/data/"+apiVersion+"/sobjects/Shipment__c/"+url.PathEscape(id), fields)
	if err != nil {
		observability.RecordUpstreamCall(ctx, "crm", "update_shipment", "error")
		return fmt.Errorf("update shipment status: %w", err)
	}
	observability.RecordUpstreamCall(ctx, "crm", "update_shipment", "success")
	return nil
}

func (c *RESTClient) CreateTrackingEvent(ctx context.Context, cred *Credential, event TrackingEvent) error {
	fields := map[string]any{
		"Shipment__c":       event.ShipmentID,
		"Tracking_Event__c": event.Status,
		"Current_Status__c": event.Status,
		"Time_Of_Event__c":  event.Timestamp.UTC().Format(time.RFC3339),
		"Event_Source__c":   event.Source,
	}
	if event.Location != nil {
		fields["Coordinates__c"] = fmt.Sprintf("%f,%f", event.Location.Lat, event.Location.Lng)
	}
	if event.Notes != "" {
		fields["Route_Details__c"] = event.Notes
	}
	err := c.postJSON(ctx, cred, "/services/data/"+apiVersion+"/sobjects/Tracking_Event__c", fields)
	if err != nil {
		observability.RecordUpstreamCall(ctx, "crm", "create_tracking_event", "error")
		return fmt.Errorf("create tracking event: %w", err)
	}
	observability.RecordUpstreamCall(ctx, "crm", "create_tracking_event", "success")
	return nil
}

func (c *RESTClient) query(ctx context.Context, cred *Credential, soql string) ([]map[string]any, error) {
	var payload struct {
		TotalSize int              `json:"totalSize"`
		Records   []map[string]any `json:"records"`
	}
	path := "/services/data/" + apiVersion + "/query?q=" + url.QueryEscape(soql)
	if err := c.getJSON(ctx, cred, path, &payload); err != nil {
		return nil, err
	}
	return payload.Records, nil
}

func (c *RESTClient) getJSON(ctx context.Context, cred *Credential, path string, out any) error {
	return c.do(ctx, cred, http.MethodGet, path, nil, out)
}

func (c *RESTClient) patchJSON(ctx context.Context, cred *Credential, path string, body any) error {
	return c.do(ctx, cred, http.MethodPatch, path, body, nil)
}

func (c *RESTClient) postJSON(ctx context.Context, cred *Credential, path string, body any) error {
	return c.do(ctx, cred, http.MethodPost, path, body, nil)
}

func (c *RESTClient) do(ctx context.Context, cred *Credential, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(cred.InstanceURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("crm request %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func shipmentFromRecord(rec map[string]any) Shipment {
	return Shipment{
		ID:                    stringField(rec, "Id"),
		Name:                  stringField(rec, "Name"),
		CarrierID:             stringField(rec, "Carrier__c"),
		Status:                stringField(rec, "Status__c"),
		ShipmentType:          stringField(rec, "Shipment_Type__c"),
		ProjectReference:      stringField(rec, "Project_Reference__c"),
		ServiceLevel:          stringField(rec, "Service_Level__c"),
		TotalWeight:           floatField(rec, "Total_Weight__c"),
		TotalVolume:           floatField(rec, "Total_Volume__c"),
		RequiredDeliveryDate:  stringField(rec, "Required_Delivery_Date__c"),
		PredictedDeliveryDate: stringField(rec, "Predicted_Delivery_Date__c"),
		DriverName:            stringField(rec, "Driver_Name__c"),
		DriverPhone:           stringField(rec, "Driver_Phone__c"),
		SpecialInstructions:   stringField(rec, "Special_Instructions__c"),
	}
}

// CRM record ids come in 15 or 18 character forms; anything else is treated
// as a human-readable name key.
func looksLikeRecordID(key string) bool {
	return len(key) == 15 || len(key) == 18
}

func soqlEscape(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, "'", `\'`)
}

func stringField(rec map[string]any, name string) string {
	if v, ok := rec[name].(string); ok {
		return v
	}
	return ""
}

func boolField(rec map[string]any, name string) bool {
	if v, ok := rec[name].(bool); ok {
		return v
	}
	return false
}

func floatField(rec map[string]any, name string) float64 {
	if v, ok := rec[name].(float64); ok {
		return v
	}
	return 0
}

func intField(rec map[string]any, name string) int {
	return int(floatField(rec, name))
}
