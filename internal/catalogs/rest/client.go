/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements. See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package rest

import (
	"bytes"
	"context"
	"fmt"
	"github.com/go-errors/errors"
	"github.com/goccy/go-json"
	"github.com/noctarius/lakestream/internal/clock"
	"github.com/noctarius/lakestream/spi/catalog"
	"github.com/noctarius/lakestream/spi/faults"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const namespaceSeparator = "\x1f"

// tokenExpiryMargin refreshes OAuth2 tokens before they actually expire
const tokenExpiryMargin = time.Second * 30

type httpClient struct {
	client     *http.Client
	baseURI    string
	credential string
	oauth2URI  string
	scope      string
	clock      clock.Clock

	mutex       sync.Mutex
	token       string
	tokenExpiry time.Time
}

func newHttpClient(
	baseURI, token, credential, oauth2URI string, timeout time.Duration, clk clock.Clock,
) *httpClient {

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if oauth2URI == "" {
		oauth2URI = strings.TrimSuffix(baseURI, "/") + "/v1/oauth/tokens"
	}
	return &httpClient{
		client:     &http.Client{Transport: transport, Timeout: timeout},
		baseURI:    strings.TrimSuffix(baseURI, "/"),
		credential: credential,
		oauth2URI:  oauth2URI,
		scope:      "PRINCIPAL_ROLE:ALL",
		clock:      clk,
		token:      token,
	}
}

// do sends the request and decodes the response into out if non-nil.
// Status codes are mapped to the catalog errors, 409 to ErrCommitConflict
// and 404 to ErrNoSuchTable.
func (h *httpClient) do(
	ctx context.Context, method, endpoint string, body, out any,
) error {

	err := h.send(ctx, method, endpoint, body, out)
	var unauthorized *unauthorizedError
	if errors.As(err, &unauthorized) && h.credential != "" {
		h.invalidateToken()
		err = h.send(ctx, method, endpoint, body, out)
	}
	if errors.As(err, &unauthorized) {
		return faults.Schemaf("%s", unauthorized.message)
	}
	return err
}

type unauthorizedError struct {
	message string
}

func (u *unauthorizedError) Error() string {
	return u.message
}

func (h *httpClient) send(
	ctx context.Context, method, endpoint string, body, out any,
) error {

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, 0)
		}
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, h.baseURI+endpoint, reader)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	token, err := h.bearerToken(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := h.client.Do(request)
	if err != nil {
		return faults.Transient(err)
	}
	defer response.Body.Close()

	content, err := io.ReadAll(response.Body)
	if err != nil {
		return faults.Transient(err)
	}
	if err := statusError(method, endpoint, response.StatusCode, content); err != nil {
		return err
	}
	if out != nil && len(content) > 0 {
		if err := json.Unmarshal(content, out); err != nil {
			return faults.Decode(err)
		}
	}
	return nil
}

func statusError(
	method, endpoint string, status int, content []byte,
) error {

	if status >= 200 && status < 300 {
		return nil
	}

	message := strings.TrimSpace(string(content))
	var response errorResponse
	if err := json.Unmarshal(content, &response); err == nil && response.Error.Message != "" {
		message = fmt.Sprintf("%s: %s", response.Error.Type, response.Error.Message)
	}
	description := fmt.Sprintf("%s %s returned %d (%s)", method, endpoint, status, message)

	switch {
	case status == http.StatusConflict:
		return errors.WrapPrefix(catalog.ErrCommitConflict, description, 0)
	case status == http.StatusNotFound:
		return errors.WrapPrefix(catalog.ErrNoSuchTable, description, 0)
	case status == http.StatusUnauthorized:
		return &unauthorizedError{message: description}
	case status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return faults.Transientf("%s", description)
	}
	return faults.Schemaf("%s", description)
}

func (h *httpClient) bearerToken(
	ctx context.Context,
) (string, error) {

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.credential == "" {
		return h.token, nil
	}
	if h.token != "" && h.clock.Now().Before(h.tokenExpiry) {
		return h.token, nil
	}

	clientID, clientSecret, found := strings.Cut(h.credential, ":")
	if !found {
		clientID, clientSecret = "", h.credential
	}
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("scope", h.scope)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, h.oauth2URI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, 0)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := h.client.Do(request)
	if err != nil {
		return "", faults.Transient(err)
	}
	defer response.Body.Close()

	content, err := io.ReadAll(response.Body)
	if err != nil {
		return "", faults.Transient(err)
	}
	if response.StatusCode != http.StatusOK {
		if response.StatusCode >= 500 {
			return "", faults.Transientf("token endpoint returned %d", response.StatusCode)
		}
		return "", faults.Schemaf("token endpoint rejected the credential with %d", response.StatusCode)
	}

	var token tokenResponse
	if err := json.Unmarshal(content, &token); err != nil {
		return "", faults.Decode(err)
	}
	h.token = token.AccessToken
	h.tokenExpiry = h.clock.Now().Add(time.Duration(token.ExpiresIn) * time.Second).Add(-tokenExpiryMargin)
	if token.ExpiresIn == 0 {
		h.tokenExpiry = h.clock.Now().Add(time.Hour)
	}
	return h.token, nil
}

func (h *httpClient) invalidateToken() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.token = ""
	h.tokenExpiry = time.Time{}
}

func (h *httpClient) close() {
	h.client.CloseIdleConnections()
}

func namespacePath(
	namespace []string,
) string {

	return url.PathEscape(strings.Join(namespace, namespaceSeparator))
}
