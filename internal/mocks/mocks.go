// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/batchrun/internal/browser"
	"github.com/xkilldash9x/batchrun/internal/config"
	"github.com/xkilldash9x/batchrun/internal/inputs"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Runner() config.RunnerConfig {
	args := m.Called()
	return args.Get(0).(config.RunnerConfig)
}

func (m *MockConfig) Inputs() config.InputsConfig {
	args := m.Called()
	return args.Get(0).(config.InputsConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Probe() config.ProbeConfig {
	args := m.Called()
	return args.Get(0).(config.ProbeConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

// --- Setters ---

func (m *MockConfig) SetRunnerBatchSize(n int) {
	m.Called(n)
}

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

// -- Browser Mocks --

// MockLauncher mocks browser.Launcher.
type MockLauncher struct {
	mock.Mock
}

func (m *MockLauncher) Launch(ctx context.Context, proxy *inputs.Proxy) (browser.Page, error) {
	args := m.Called(ctx, proxy)
	page, _ := args.Get(0).(browser.Page)
	return page, args.Error(1)
}

// MockPage mocks browser.Page.
type MockPage struct {
	mock.Mock
}

func (m *MockPage) Context() context.Context {
	args := m.Called()
	if ctx, ok := args.Get(0).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockPage) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Close() {
	m.Called()
}

var (
	_ config.Interface = (*MockConfig)(nil)
	_ browser.Launcher = (*MockLauncher)(nil)
	_ browser.Page     = (*MockPage)(nil)
)
