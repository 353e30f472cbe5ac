// ABOUTME: This file implements the Client interface using the Lab Manager internal SOAP API.
// Requests are SOAP 1.1 envelopes carrying an AuthenticationHeader; faults are surfaced as
// *FaultError and transport failures wrap ErrConnection.
package labmanager

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/labmgr/labmgr/internal/buildinfo"
)

const (
	// EndpointPath is the well-known control path appended to the Lab Manager host.
	EndpointPath = "/LabManager/SOAP/LabManagerInternal.asmx"

	// DefaultTimeout covers slow deploy and undeploy operations on the Lab Manager side.
	DefaultTimeout = 3 * time.Minute

	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	labManagerNS   = "http://vmware.com/labmanager"
)

// Auth carries the credentials sent in every SOAP AuthenticationHeader.
type Auth struct {
	Username     string
	Password     string
	Organization string
	Workspace    string
}

// SOAPClient implements Client over HTTPS.
// ABOUTME: The client is stateless apart from its HTTP transport; it is safe for concurrent use.
type SOAPClient struct {
	HTTPClient *http.Client // Custom HTTP client (optional, defaults to a client with DefaultTimeout)
	Endpoint   string       // Full SOAP endpoint URL (host + EndpointPath)
	Auth       Auth
	Timeout    time.Duration // Request timeout when HTTPClient is nil
}

var _ Client = (*SOAPClient)(nil)

// NewSOAPClient builds a client bound to host + EndpointPath.
// ABOUTME: The host must be an absolute http(s) URL. TLS verification can be disabled with
// tlsInsecure (self-signed Lab Manager installs) or pinned to a CA bundle with caPath.
func NewSOAPClient(host string, auth Auth, timeout time.Duration, tlsInsecure bool, caPath string) (*SOAPClient, error) {
	endpoint, err := endpointURL(host)
	if err != nil {
		return nil, err
	}
	httpClient, err := newSOAPHTTPClient(timeout, tlsInsecure, caPath)
	if err != nil {
		return nil, err
	}
	return &SOAPClient{
		HTTPClient: httpClient,
		Endpoint:   endpoint,
		Auth:       auth,
		Timeout:    httpClient.Timeout,
	}, nil
}

func endpointURL(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("%w: host is required", ErrConnection)
	}
	parsed, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("%w: parse host %q: %v", ErrConnection, host, err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return "", fmt.Errorf("%w: host %q must be an http(s) URL", ErrConnection, host)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: host %q has no hostname", ErrConnection, host)
	}
	return strings.TrimSuffix(host, "/") + EndpointPath, nil
}

func newSOAPHTTPClient(timeout time.Duration, tlsInsecure bool, caPath string) (*http.Client, error) {
	caPath = strings.TrimSpace(caPath)
	if tlsInsecure && caPath != "" {
		return nil, fmt.Errorf("tls_insecure cannot be true when tls_ca_path is set")
	}
	tlsConfig := &tls.Config{
		InsecureSkipVerify: tlsInsecure,
	}
	if caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read tls_ca_path %q: %w", caPath, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("tls_ca_path %q did not contain any certificates", caPath)
		}
		tlsConfig.RootCAs = pool
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig:       tlsConfig,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
		},
	}, nil
}

// Wire types

type requestEnvelope struct {
	XMLName xml.Name      `xml:"soap:Envelope"`
	SoapNS  string        `xml:"xmlns:soap,attr"`
	Header  requestHeader `xml:"soap:Header"`
	Body    requestBody   `xml:"soap:Body"`
}

type requestHeader struct {
	Auth authenticationHeader
}

type requestBody struct {
	Content interface{}
}

type authenticationHeader struct {
	XMLName      xml.Name `xml:"http://vmware.com/labmanager AuthenticationHeader"`
	Username     string   `xml:"username"`
	Password     string   `xml:"password"`
	Organization string   `xml:"organizationname,omitempty"`
	Workspace    string   `xml:"workspacename,omitempty"`
}

type responseEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault *soapFault `xml:"Fault"`
		Inner []byte     `xml:",innerxml"`
	} `xml:"Body"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type configurationXML struct {
	ID         int    `xml:"id"`
	Name       string `xml:"name"`
	IsDeployed bool   `xml:"isDeployed"`
}

func (c configurationXML) toConfiguration() Configuration {
	return Configuration{ID: c.ID, Name: c.Name, IsDeployed: c.IsDeployed}
}

type machineXML struct {
	ID         int    `xml:"id"`
	Name       string `xml:"name"`
	Status     int    `xml:"status"`
	ExternalIP string `xml:"externalIP"`
}

func (m machineXML) toMachine() Machine {
	return Machine{ID: m.ID, Name: m.Name, Status: Status(m.Status), ExternalIP: strings.TrimSpace(m.ExternalIP)}
}

type getSingleConfigurationByNameRequest struct {
	XMLName xml.Name `xml:"http://vmware.com/labmanager GetSingleConfigurationByName"`
	Name    string   `xml:"name"`
}

type getSingleConfigurationByNameResponse struct {
	Result *configurationXML `xml:"GetSingleConfigurationByNameResult"`
}

type getMachineByNameRequest struct {
	XMLName         xml.Name `xml:"http://vmware.com/labmanager GetMachineByName"`
	ConfigurationID int      `xml:"configurationId"`
	Name            string   `xml:"name"`
}

type getMachineByNameResponse struct {
	Result *machineXML `xml:"GetMachineByNameResult"`
}

type listMachinesRequest struct {
	XMLName         xml.Name `xml:"http://vmware.com/labmanager ListMachines"`
	ConfigurationID int      `xml:"configurationId"`
}

type listMachinesResponse struct {
	Machines []machineXML `xml:"ListMachinesResult>Machine"`
}

type machinePerformActionRequest struct {
	XMLName   xml.Name `xml:"http://vmware.com/labmanager MachinePerformAction"`
	MachineID int      `xml:"machineId"`
	Action    int      `xml:"action"`
}

type configurationDeployRequest struct {
	XMLName         xml.Name `xml:"http://vmware.com/labmanager ConfigurationDeploy"`
	ConfigurationID int      `xml:"configurationId"`
	IsCached        bool     `xml:"isCached"`
	FenceMode       int      `xml:"fenceMode"`
}

// GetConfigurationByName resolves a configuration by name.
func (c *SOAPClient) GetConfigurationByName(ctx context.Context, name string) (Configuration, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Configuration{}, fmt.Errorf("configuration name is required")
	}
	var resp getSingleConfigurationByNameResponse
	if err := c.call(ctx, "GetSingleConfigurationByName", getSingleConfigurationByNameRequest{Name: name}, &resp); err != nil {
		return Configuration{}, err
	}
	if resp.Result == nil || resp.Result.ID == 0 {
		return Configuration{}, fmt.Errorf("%w: %q", ErrConfigurationNotFound, name)
	}
	return resp.Result.toConfiguration(), nil
}

// GetMachineByName resolves a machine by name within a configuration.
func (c *SOAPClient) GetMachineByName(ctx context.Context, configurationID int, name string) (Machine, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Machine{}, fmt.Errorf("machine name is required")
	}
	var resp getMachineByNameResponse
	req := getMachineByNameRequest{ConfigurationID: configurationID, Name: name}
	if err := c.call(ctx, "GetMachineByName", req, &resp); err != nil {
		return Machine{}, err
	}
	if resp.Result == nil || resp.Result.ID == 0 {
		return Machine{}, fmt.Errorf("%w: %q in configuration %d", ErrMachineNotFound, name, configurationID)
	}
	return resp.Result.toMachine(), nil
}

// ListMachines lists every machine in a configuration.
func (c *SOAPClient) ListMachines(ctx context.Context, configurationID int) ([]Machine, error) {
	var resp listMachinesResponse
	if err := c.call(ctx, "ListMachines", listMachinesRequest{ConfigurationID: configurationID}, &resp); err != nil {
		return nil, err
	}
	machines := make([]Machine, 0, len(resp.Machines))
	for _, m := range resp.Machines {
		machines = append(machines, m.toMachine())
	}
	return machines, nil
}

// PerformMachineAction sends a machine action and waits for the call to return.
// ABOUTME: Lab Manager reports illegal actions as SOAP faults.
func (c *SOAPClient) PerformMachineAction(ctx context.Context, machineID int, action Action) error {
	req := machinePerformActionRequest{MachineID: machineID, Action: int(action)}
	return c.call(ctx, "MachinePerformAction", req, nil)
}

// DeployConfiguration deploys all machines of a configuration with the given fence mode.
func (c *SOAPClient) DeployConfiguration(ctx context.Context, configurationID int, fence FenceMode) error {
	req := configurationDeployRequest{ConfigurationID: configurationID, FenceMode: int(fence)}
	return c.call(ctx, "ConfigurationDeploy", req, nil)
}

// HTTP methods

func (c *SOAPClient) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (c *SOAPClient) call(ctx context.Context, operation string, request interface{}, response interface{}) error {
	envelope := requestEnvelope{
		SoapNS: soapEnvelopeNS,
		Header: requestHeader{Auth: authenticationHeader{
			Username:     c.Auth.Username,
			Password:     c.Auth.Password,
			Organization: c.Auth.Organization,
			Workspace:    c.Auth.Workspace,
		}},
		Body: requestBody{Content: request},
	}
	payload, err := xml.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", operation, err)
	}
	body := append([]byte(xml.Header), payload...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %s: create request: %v", ErrConnection, operation, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", fmt.Sprintf("%q", labManagerNS+"/"+operation))
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnection, operation, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: read response: %v", ErrConnection, operation, err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s: http status %d", ErrConnection, operation, resp.StatusCode)
	}

	var env responseEnvelope
	if err := xml.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: http status %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		return fmt.Errorf("%s: parse response: %w", operation, err)
	}
	if env.Body.Fault != nil {
		return &FaultError{
			Operation: operation,
			Code:      strings.TrimSpace(env.Body.Fault.Code),
			Message:   strings.TrimSpace(env.Body.Fault.String),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http status %d", operation, resp.StatusCode)
	}
	if response == nil {
		return nil
	}
	if err := xml.Unmarshal(env.Body.Inner, response); err != nil {
		return fmt.Errorf("%s: parse result: %w", operation, err)
	}
	return nil
}
