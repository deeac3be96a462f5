package rca

import (
	"bytes"
	"encoding/xml"
	"strings"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	serviceNS      = "http://tempuri.org/"
	soapActionBase = "http://tempuri.org/IRcaExportService/"
)

type requestEnvelope struct {
	XMLName xml.Name    `xml:"soap:Envelope"`
	SoapNS  string      `xml:"xmlns:soap,attr"`
	Body    requestBody `xml:"soap:Body"`
}

type requestBody struct {
	Content any
}

type responseEnvelope struct {
	Body struct {
		Fault *soapFault `xml:"Fault"`
		Inner []byte     `xml:",innerxml"`
	} `xml:"Body"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

// clientFault reports whether the fault blames the request rather than the service.
func (f *soapFault) clientFault() bool {
	code := f.Code
	if idx := strings.LastIndex(code, ":"); idx >= 0 {
		code = code[idx+1:]
	}
	return code == "Client" || strings.HasPrefix(code, "Client.") || code == "Sender"
}

func encodeEnvelope(content any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if errEncode := enc.Encode(requestEnvelope{SoapNS: soapEnvelopeNS, Body: requestBody{Content: content}}); errEncode != nil {
		return nil, errEncode
	}
	return buf.Bytes(), nil
}

func decodeEnvelope(body []byte) (*responseEnvelope, error) {
	var env responseEnvelope
	if errDecode := xml.Unmarshal(body, &env); errDecode != nil {
		return nil, errDecode
	}
	return &env, nil
}

// operation request bodies

type authorizationInfo struct {
	UserName     string `xml:"UserName"`
	UserPassword string `xml:"UserPassword"`
}

type authenticateRequest struct {
	XMLName xml.Name          `xml:"http://tempuri.org/ Authenticate"`
	Author  authorizationInfo `xml:"author"`
}

type authenticateResponse struct {
	Result string `xml:"AuthenticateResult"`
}

type checkAccessRequest struct {
	XMLName  xml.Name `xml:"http://tempuri.org/ CheckAccess"`
	Login    string   `xml:"login"`
	Password string   `xml:"password"`
}

type checkAccessResponse struct {
	Result bool `xml:"CheckAccessResult"`
}

type employeeInput struct {
	IDNP string `xml:"IDNP"`
}

type calculateRCAIRequest struct {
	XMLName       xml.Name `xml:"http://tempuri.org/ CalculateRCAIPremium"`
	SecurityToken string   `xml:"SecurityToken"`
	Request       struct {
		Employee                             *employeeInput `xml:"Employee,omitempty"`
		OperatingModes                       OperatingMode  `xml:"OperatingModes"`
		PersonIsJuridical                    bool           `xml:"PersonIsJuridical"`
		IDNX                                 string         `xml:"IDNX,omitempty"`
		VehicleRegistrationCertificateNumber string         `xml:"VehicleRegistrationCertificateNumber,omitempty"`
		Territory                            string         `xml:"Territory,omitempty"`
	} `xml:"request"`
}

type calculateRCAIResponse struct {
	Result RCAIQuote `xml:"CalculateRCAIPremiumResult"`
}

type calculateRCAERequest struct {
	XMLName       xml.Name `xml:"http://tempuri.org/ CalculateRCAEPremium"`
	SecurityToken string   `xml:"SecurityToken"`
	Request       struct {
		Employee                             *employeeInput `xml:"Employee,omitempty"`
		GreenCardZone                        string         `xml:"GreenCardZone"`
		IDNX                                 string         `xml:"IDNX"`
		VehicleRegistrationCertificateNumber string         `xml:"VehicleRegistrationCertificateNumber"`
		TermInsurance                        string         `xml:"TermInsurance"`
	} `xml:"request"`
}

type calculateRCAEResponse struct {
	Result RCAEQuote `xml:"CalculateRCAEPremiumResult"`
}

type saveRCARequest struct {
	XMLName       xml.Name    `xml:"http://tempuri.org/ SaveRcaDocument"`
	SecurityToken string      `xml:"SecurityToken"`
	Request       RCADocument `xml:"request"`
}

type saveGreenCardRequest struct {
	XMLName       xml.Name          `xml:"http://tempuri.org/ SaveGreenCardDocument"`
	SecurityToken string            `xml:"SecurityToken"`
	Request       GreenCardDocument `xml:"request"`
}

// saveResponse matches any Save*Response element; the single child is the result.
type saveResponse struct {
	Result *saveResult `xml:",any"`
}

type saveResult struct {
	IsSuccess    *bool     `xml:"IsSuccess"`
	ErrorMessage string    `xml:"ErrorMessage"`
	Errors       errorList `xml:"Errors"`
	Response     *struct {
		ID string `xml:"Id"`
	} `xml:"Response"`
}

type errorList struct {
	Items []errorItem `xml:",any"`
}

type errorItem struct {
	Text         string `xml:",chardata"`
	Message      string `xml:"Message"`
	ErrorMessage string `xml:"ErrorMessage"`
}

func (l errorList) strings() []string {
	out := make([]string, 0, len(l.Items))
	for _, item := range l.Items {
		for _, candidate := range []string{item.Message, item.ErrorMessage, item.Text} {
			if trimmed := strings.TrimSpace(candidate); trimmed != "" {
				out = append(out, trimmed)
				break
			}
		}
	}
	return out
}

type getFileRequest struct {
	XMLName       xml.Name `xml:"http://tempuri.org/ GetFile"`
	SecurityToken string   `xml:"SecurityToken"`
	FileRequest   struct {
		DocumentID   string       `xml:"DocumentId"`
		DocumentType DocumentPart `xml:"DocumentType"`
		ContractType string       `xml:"ContractType"`
	} `xml:"fileRequest"`
}

type getFileResponse struct {
	Result struct {
		FileContent  string `xml:"FileContent"`
		IsSuccess    *bool  `xml:"IsSuccess"`
		ErrorMessage string `xml:"ErrorMessage"`
	} `xml:"GetFileResult"`
}

type documentKeysRequest struct {
	XMLName       xml.Name
	SecurityToken string `xml:"SecurityToken"`
	StartDate     string `xml:"StartDate"`
	EndDate       string `xml:"EndDate"`
}

// documentKeysResponse matches any *KeysListResponse; keys are the result's children.
type documentKeysResponse struct {
	Result struct {
		Keys []struct {
			Value string `xml:",chardata"`
		} `xml:",any"`
	} `xml:",any"`
}
